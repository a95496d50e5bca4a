package domain

import (
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"
)

// stepWire is the flat document shape steps are stored and exchanged in.
type stepWire struct {
	ID         string         `json:"id" yaml:"id"`
	Type       string         `json:"type" yaml:"type"`
	ActionType string         `json:"action_type,omitempty" yaml:"action_type,omitempty"`
	Endpoint   string         `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	WaitTime   *waitTimeWire  `json:"wait_time,omitempty" yaml:"wait_time,omitempty"`
	WaitUntil  *time.Time     `json:"wait_until,omitempty" yaml:"wait_until,omitempty"`
	Condition  *conditionWire `json:"condition,omitempty" yaml:"condition,omitempty"`
	Next       []string       `json:"next,omitempty" yaml:"next,omitempty"`
	Data       map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

type waitTimeWire struct {
	Type  string  `json:"type" yaml:"type"`
	Value float64 `json:"value" yaml:"value"`
}

type conditionWire struct {
	Type      string   `json:"type" yaml:"type"`
	Field     string   `json:"field" yaml:"field"`
	Value     any      `json:"value" yaml:"value"`
	TrueNext  []string `json:"true_next,omitempty" yaml:"true_next,omitempty"`
	FalseNext []string `json:"false_next,omitempty" yaml:"false_next,omitempty"`
}

// fromWire builds the variant without validating it, so stored definitions
// always load and bad steps surface at execution time.
func fromWire(w stepWire) Step {
	switch StepType(w.Type) {
	case StepTypeAction:
		return &ActionStep{ID: w.ID, ActionType: ActionType(w.ActionType), Endpoint: w.Endpoint, Next: w.Next, Data: w.Data}
	case StepTypeWaitFor:
		s := &WaitForStep{ID: w.ID, Next: w.Next, Data: w.Data}
		if w.WaitTime != nil {
			s.Unit = WaitUnit(w.WaitTime.Type)
			s.Value = w.WaitTime.Value
		}
		return s
	case StepTypeWaitUntil:
		s := &WaitUntilStep{ID: w.ID, Next: w.Next, Data: w.Data}
		if w.WaitUntil != nil {
			s.Until = *w.WaitUntil
		}
		return s
	case StepTypeCondition:
		s := &ConditionStep{ID: w.ID, Data: w.Data}
		if w.Condition != nil {
			s.Condition = Condition{Operator: Operator(w.Condition.Type), Field: w.Condition.Field, Value: w.Condition.Value}
			s.TrueNext = w.Condition.TrueNext
			s.FalseNext = w.Condition.FalseNext
		}
		return s
	default:
		return &UnknownStep{ID: w.ID, RawType: w.Type}
	}
}

func toWire(s Step) stepWire {
	switch v := s.(type) {
	case *ActionStep:
		return stepWire{ID: v.ID, Type: string(StepTypeAction), ActionType: string(v.ActionType), Endpoint: v.Endpoint, Next: v.Next, Data: v.Data}
	case *WaitForStep:
		return stepWire{ID: v.ID, Type: string(StepTypeWaitFor), WaitTime: &waitTimeWire{Type: string(v.Unit), Value: v.Value}, Next: v.Next, Data: v.Data}
	case *WaitUntilStep:
		until := v.Until
		return stepWire{ID: v.ID, Type: string(StepTypeWaitUntil), WaitUntil: &until, Next: v.Next, Data: v.Data}
	case *ConditionStep:
		return stepWire{ID: v.ID, Type: string(StepTypeCondition), Data: v.Data, Condition: &conditionWire{
			Type:      string(v.Condition.Operator),
			Field:     v.Condition.Field,
			Value:     v.Condition.Value,
			TrueNext:  v.TrueNext,
			FalseNext: v.FalseNext,
		}}
	case *UnknownStep:
		return stepWire{ID: v.ID, Type: v.RawType}
	}
	return stepWire{}
}

// StepList is an ordered list of steps that encodes to the flat wire shape.
type StepList []Step

func (l StepList) MarshalJSON() ([]byte, error) {
	wires := make([]stepWire, 0, len(l))
	for _, s := range l {
		wires = append(wires, toWire(s))
	}
	return json.Marshal(wires)
}

func (l *StepList) UnmarshalJSON(data []byte) error {
	var wires []stepWire
	if err := json.Unmarshal(data, &wires); err != nil {
		return err
	}
	out := make(StepList, 0, len(wires))
	for _, w := range wires {
		out = append(out, fromWire(w))
	}
	*l = out
	return nil
}

func (l StepList) MarshalYAML() (interface{}, error) {
	wires := make([]stepWire, 0, len(l))
	for _, s := range l {
		wires = append(wires, toWire(s))
	}
	return wires, nil
}

func (l *StepList) UnmarshalYAML(value *yaml.Node) error {
	var wires []stepWire
	if err := value.Decode(&wires); err != nil {
		return err
	}
	out := make(StepList, 0, len(wires))
	for _, w := range wires {
		out = append(out, fromWire(w))
	}
	*l = out
	return nil
}
