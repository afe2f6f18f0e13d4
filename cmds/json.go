package cmds

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// WriteJSON writes commands as an array of objects, each naming its command and listing its fields
func WriteJSON(writer *jwriter.Writer, commands []Command) {
	array := writer.Array()
	defer array.End()

	for _, cmd := range commands {
		obj := array.Object()
		obj.Name("Command").String(cmd.Opcode().String())
		cmd.writeFields(&obj)
		obj.End()
	}
}

// DumpStream decodes stream and returns its JSON form
func DumpStream(stream []byte) ([]byte, error) {
	commands, err := Decode(stream)
	if err != nil {
		return nil, err
	}

	writer := jwriter.NewWriter()
	WriteJSON(&writer, commands)
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return writer.Bytes(), nil
}

// Filter returns the commands whose opcode is op
func Filter(commands []Command, op Opcode) []Command {
	var out []Command
	for _, cmd := range commands {
		if cmd.Opcode() == op {
			out = append(out, cmd)
		}
	}
	return out
}

// Count returns how many commands have opcode op
func Count(commands []Command, op Opcode) int {
	count := 0
	for _, cmd := range commands {
		if cmd.Opcode() == op {
			count++
		}
	}
	return count
}
