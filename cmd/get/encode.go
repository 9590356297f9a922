package get

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/opencontainers/go-digest"
	"sigs.k8s.io/yaml"

	"ocm.software/open-component-model/contribution/contribution"
)

const shortDigestLength = 12

func encodeContributions(output string, list []*contribution.Contribution) (io.Reader, int64, error) {
	var data []byte
	var err error
	switch output {
	case "json":
		data, err = encodeAsNDJSON(list)
	case "yaml":
		data, err = encodeAsYAML(list)
	case "table":
		data, err = encodeAsTable(list)
	default:
		err = fmt.Errorf("unknown output format: %q", output)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("encoding contributions as %q failed: %w", output, err)
	}
	return bytes.NewReader(data), int64(len(data)), nil
}

// encodeAsNDJSON writes one contribution per line.
func encodeAsNDJSON(list []*contribution.Contribution) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, c := range list {
		if err := encoder.Encode(c); err != nil {
			return nil, fmt.Errorf("encoding contribution %q failed: %w", c.Name, err)
		}
	}
	return buf.Bytes(), nil
}

func encodeAsYAML(list []*contribution.Contribution) ([]byte, error) {
	if len(list) == 1 {
		return yaml.Marshal(list[0])
	}
	return yaml.Marshal(list)
}

func encodeAsTable(list []*contribution.Contribution) ([]byte, error) {
	var buf bytes.Buffer
	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.AppendHeader(table.Row{"Name", "Component", "Description", "Disabled", "Size", "Digest"})
	for _, c := range list {
		t.AppendRow(table.Row{c.Name, c.ComponentName(), c.Description, c.Disabled, len(c.Content), shortDigest(c.Content)})
	}
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()
	return buf.Bytes(), nil
}

func shortDigest(content []byte) string {
	encoded := digest.FromBytes(content).Encoded()
	return encoded[:shortDigestLength]
}
