package mockserver

import (
	"fmt"
	"os"
	"strings"
	"time"

	"polybrain/internal/domain"

	"gopkg.in/yaml.v3"
)

// scriptFile is the YAML form of a script:
//
//	steps:
//	  - type: MICROPHONE
//	    status: "ON"
//	    delayMs: 500
//	  - raw: '{"messageType":"UNKNOWN"}'
type scriptFile struct {
	Steps []scriptStep `yaml:"steps"`
}

type scriptStep struct {
	Type    string `yaml:"type"`
	Status  string `yaml:"status"`
	Raw     string `yaml:"raw"`
	DelayMs int    `yaml:"delayMs"`
}

// LoadScript reads a YAML script. Steps without delayMs use defaultDelay.
func LoadScript(path string, defaultDelay time.Duration) ([]Step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return ParseScript(data, defaultDelay)
}

// ParseScript decodes a YAML script.
func ParseScript(data []byte, defaultDelay time.Duration) ([]Step, error) {
	var f scriptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if len(f.Steps) == 0 {
		return nil, fmt.Errorf("parse script: no steps")
	}

	steps := make([]Step, 0, len(f.Steps))
	for i, s := range f.Steps {
		step := Step{Raw: s.Raw, Delay: defaultDelay}
		if s.DelayMs > 0 {
			step.Delay = time.Duration(s.DelayMs) * time.Millisecond
		}
		if s.Raw == "" {
			if s.Type == "" {
				return nil, fmt.Errorf("parse script: step %d has neither type nor raw", i+1)
			}
			step.Message = domain.InboundMessage{
				MessageType: domain.MessageType(strings.ToUpper(s.Type)),
				Body:        domain.MessageBody{Status: domain.Status(strings.ToUpper(s.Status))},
			}
		}
		steps = append(steps, step)
	}
	return steps, nil
}
