package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/observ/internal/pubsub"
)

// SaveProbes replaces the probes list in the config file. Comments and
// formatting in other sections are preserved by editing the yaml.Node tree.
func SaveProbes(configPath string, probes []string) error {
	if err := ValidateProbes(probes); err != nil {
		return err
	}
	node := &yaml.Node{Kind: yaml.SequenceNode}
	for _, p := range probes {
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: p})
	}
	return saveKey(configPath, []string{"probes"}, node)
}

// SaveErrorPolicy sets emit.error_policy in the config file.
func SaveErrorPolicy(configPath string, policy string) error {
	if _, err := pubsub.ParseErrorPolicy(policy); err != nil {
		return err
	}
	node := &yaml.Node{Kind: yaml.ScalarNode, Value: policy}
	return saveKey(configPath, []string{"emit", "error_policy"}, node)
}

// saveKey sets the value at path, creating intermediate mappings as needed,
// and writes the file atomically.
func saveKey(configPath string, path []string, value *yaml.Node) error {
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}

	var doc yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}
	if doc.Kind == 0 {
		doc = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode}},
		}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("config root must be a mapping")
	}

	m := doc.Content[0]
	for i, key := range path {
		last := i == len(path)-1
		child := lookup(m, key)
		switch {
		case last && child != nil:
			*child = *value
		case last:
			m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, value)
		case child == nil:
			child = &yaml.Node{Kind: yaml.MappingNode}
			m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, child)
			m = child
		case child.Kind != yaml.MappingNode:
			return fmt.Errorf("config key %q is not a mapping", key)
		default:
			m = child
		}
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_ = encoder.Close()

	return writeAtomic(configPath, buf.Bytes())
}

// lookup returns the value node for key in mapping m.
func lookup(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i < len(m.Content)-1; i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// writeAtomic writes to a temp file and renames it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".observ.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
