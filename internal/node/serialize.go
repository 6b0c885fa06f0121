package node

import (
	"encoding/json"
	"fmt"
)

// Envelope is the persisted form of one node: its kind, id, upstream ids in
// port order, and the operator-specific state blob.
type Envelope struct {
	Kind   Kind            `json:"kind"`
	ID     string          `json:"id"`
	Inputs []string        `json:"inputs,omitempty"`
	State  json.RawMessage `json:"state,omitempty"`
}

// Serialize captures a node into its envelope.
func Serialize(n Node) (*Envelope, error) {
	state, err := n.SerializeState()
	if err != nil {
		return nil, fmt.Errorf("serialize %s node %s: %w", n.Kind(), n.ID(), err)
	}
	env := &Envelope{Kind: n.Kind(), ID: n.ID(), State: state}
	for _, in := range n.Inputs() {
		if in == nil {
			env.Inputs = append(env.Inputs, "")
			continue
		}
		env.Inputs = append(env.Inputs, in.ID())
	}
	return env, nil
}

// Deserialize reconstructs a node from its envelope, resolving upstream ids
// against byID. Inputs must therefore be deserialized in dependency order.
func Deserialize(env *Envelope, byID map[string]Node) (Node, error) {
	inputs, err := resolveInputs(env, byID)
	if err != nil {
		return nil, err
	}
	if len(env.State) == 0 {
		env = &Envelope{Kind: env.Kind, ID: env.ID, Inputs: env.Inputs, State: json.RawMessage("{}")}
	}
	at := func(i int) Node {
		if i < len(inputs) {
			return inputs[i]
		}
		return nil
	}

	var n Node
	switch env.Kind {
	case KindTable:
		v := &TableNode{base: newBase(env.ID, env.Kind)}
		var s tableState
		if err := json.Unmarshal(env.State, &s); err != nil {
			return nil, stateErr(env, err)
		}
		v.applyCommonState(s.commonState)
		v.TableName, v.Module, v.Columns = s.TableName, s.Module, s.Columns
		n = v

	case KindSql:
		v := &SqlNode{base: newBase(env.ID, env.Kind)}
		var s sqlState
		if err := json.Unmarshal(env.State, &s); err != nil {
			return nil, stateErr(env, err)
		}
		v.applyCommonState(s.commonState)
		v.Sql, v.Preamble, v.Columns = s.Sql, s.Preamble, s.Columns
		n = v

	case KindIntervals:
		v := &IntervalsNode{base: newBase(env.ID, env.Kind)}
		var s intervalsState
		if err := json.Unmarshal(env.State, &s); err != nil {
			return nil, stateErr(env, err)
		}
		v.applyCommonState(s.commonState)
		v.Mode, v.Ts, v.Dur = s.Mode, s.Ts, s.Dur
		n = v

	case KindModify:
		v := &ModifyNode{base: newBase(env.ID, env.Kind), Primary: at(0)}
		var s modifyState
		if err := json.Unmarshal(env.State, &s); err != nil {
			return nil, stateErr(env, err)
		}
		v.applyCommonState(s.commonState)
		v.Selected, v.GroupBy, v.Aggregates = s.Selected, s.GroupBy, s.Aggregates
		v.OrderBy, v.Limit, v.Offset = s.OrderBy, s.Limit, s.Offset
		n = v

	case KindAddColumns:
		v := &AddColumnsNode{
			base:      newBase(env.ID, env.Kind),
			Primary:   at(0),
			Secondary: NewSecondaryInput(0, 1),
		}
		v.Secondary.Set(0, at(1))
		var s addColumnsState
		if err := json.Unmarshal(env.State, &s); err != nil {
			return nil, stateErr(env, err)
		}
		v.applyCommonState(s.commonState)
		v.LeftColumn, v.RightColumn = s.LeftColumn, s.RightColumn
		v.SelectedColumns, v.Computed = s.SelectedColumns, s.Computed
		v.Aliases = s.Aliases
		if v.Aliases == nil {
			v.Aliases = make(map[string]string)
		}
		n = v

	case KindMerge:
		v := &MergeNode{base: newBase(env.ID, env.Kind), Left: at(0), Right: at(1)}
		var s mergeState
		if err := json.Unmarshal(env.State, &s); err != nil {
			return nil, stateErr(env, err)
		}
		v.applyCommonState(s.commonState)
		v.LeftColumn, v.RightColumn, v.JoinType = s.LeftColumn, s.RightColumn, s.JoinType
		n = v

	case KindUnion:
		v := &UnionNode{base: newBase(env.ID, env.Kind), Members: NewSecondaryInput(2, 0)}
		for i, in := range inputs {
			v.Members.Set(i, in)
		}
		var s unionState
		if err := json.Unmarshal(env.State, &s); err != nil {
			return nil, stateErr(env, err)
		}
		v.applyCommonState(s.commonState)
		v.UseUnionAll = s.UseUnionAll
		n = v

	case KindIntervalIntersect:
		v := &IntervalIntersectNode{
			base:      newBase(env.ID, env.Kind),
			Base:      at(0),
			Intersect: NewSecondaryInput(1, 0),
		}
		for i := 1; i < len(inputs); i++ {
			v.Intersect.Set(i-1, inputs[i])
		}
		var s intervalIntersectState
		if err := json.Unmarshal(env.State, &s); err != nil {
			return nil, stateErr(env, err)
		}
		v.applyCommonState(s.commonState)
		v.PartitionColumns, v.TsDurSource = s.PartitionColumns, s.TsDurSource
		v.IncludeUnfinished = s.IncludeUnfinished
		if v.IncludeUnfinished == nil {
			v.IncludeUnfinished = make(map[int]bool)
		}
		n = v

	case KindFilterToIntervals:
		v := &FilterToIntervalsNode{
			base:      newBase(env.ID, env.Kind),
			Primary:   at(0),
			Intervals: NewSecondaryInput(1, 1),
		}
		v.Intervals.Set(0, at(1))
		var s struct{ commonState }
		if err := json.Unmarshal(env.State, &s); err != nil {
			return nil, stateErr(env, err)
		}
		v.applyCommonState(s.commonState)
		n = v

	case KindFilterIn:
		v := &FilterInNode{
			base:    newBase(env.ID, env.Kind),
			Primary: at(0),
			Source:  NewSecondaryInput(1, 1),
		}
		v.Source.Set(0, at(1))
		var s filterInState
		if err := json.Unmarshal(env.State, &s); err != nil {
			return nil, stateErr(env, err)
		}
		v.applyCommonState(s.commonState)
		v.Column, v.SourceColumn = s.Column, s.SourceColumn
		n = v

	default:
		return nil, fmt.Errorf("unknown node kind %q", env.Kind)
	}
	return n, nil
}

func resolveInputs(env *Envelope, byID map[string]Node) ([]Node, error) {
	inputs := make([]Node, len(env.Inputs))
	for i, id := range env.Inputs {
		if id == "" {
			continue
		}
		in, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("node %s references unknown input %q", env.ID, id)
		}
		inputs[i] = in
	}
	return inputs, nil
}

func stateErr(env *Envelope, err error) error {
	return fmt.Errorf("deserialize %s node %s: %w", env.Kind, env.ID, err)
}
