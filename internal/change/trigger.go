package change

import (
	"fmt"
	"strings"
)

// Trigger is a bit set of change kinds. Consumers declare the kinds they react
// to by combining values; a Record always carries exactly one kind.
type Trigger uint8

const TriggerNone Trigger = 0

const (
	TriggerChange Trigger = 1 << iota
	TriggerCreate
	TriggerDelete
	TriggerRename
	TriggerStep
)

// TriggerFile covers every kind raised by the filesystem.
const TriggerFile = TriggerChange | TriggerCreate | TriggerDelete | TriggerRename

var triggerNames = []struct {
	trigger Trigger
	name    string
}{
	{TriggerCreate, "create"},
	{TriggerChange, "change"},
	{TriggerDelete, "delete"},
	{TriggerRename, "rename"},
	{TriggerStep, "step"},
}

// Has reports whether any kind in other is present in trigger.
func (trigger Trigger) Has(other Trigger) bool {
	return trigger&other != 0
}

func (trigger Trigger) String() string {
	if trigger == TriggerNone {
		return "none"
	}
	parts := make([]string, 0, len(triggerNames))
	for _, entry := range triggerNames {
		if trigger&entry.trigger != 0 {
			parts = append(parts, entry.name)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("trigger(%d)", uint8(trigger))
	}
	return strings.Join(parts, "|")
}

func (trigger Trigger) MarshalText() ([]byte, error) {
	return []byte(trigger.String()), nil
}

func (trigger *Trigger) UnmarshalText(text []byte) error {
	parsed, err := ParseTriggers(strings.Split(string(text), "|"))
	if err != nil {
		return err
	}
	*trigger = parsed
	return nil
}

// ParseTrigger parses a single kind name. "all" selects every filesystem kind.
func ParseTrigger(value string) (Trigger, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", "none":
		return TriggerNone, nil
	case "all":
		return TriggerFile, nil
	}
	for _, entry := range triggerNames {
		if entry.name == normalized {
			return entry.trigger, nil
		}
	}
	return TriggerNone, fmt.Errorf("unknown trigger %q", value)
}

// ParseTriggers combines several kind names into one set.
func ParseTriggers(values []string) (Trigger, error) {
	var combined Trigger
	for _, value := range values {
		parsed, err := ParseTrigger(value)
		if err != nil {
			return TriggerNone, err
		}
		combined |= parsed
	}
	return combined, nil
}
