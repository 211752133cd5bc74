package coordinator

import (
	"fmt"
	"sort"

	"github.com/stbridge/stbridge-go/pkg/persistence"
	"github.com/stbridge/stbridge-go/pkg/smartthings"
)

// LoadState restores the persisted registry: the paired set and the
// last known device states. Metadata still comes from the next Reload;
// until then the restored states serve reads and persistence only.
func (c *Coordinator) LoadState() error {
	saved, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("load coordinator state: %w", err)
	}
	if saved == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range saved.PairedDevices {
		c.paired[id] = struct{}{}
	}
	for _, pair := range saved.DeviceStates {
		c.states[pair.ID] = docToState(pair.State)
	}
	return nil
}

// persist writes the registry to the coordinator state file.
func (c *Coordinator) persist() error {
	c.mu.Lock()

	paired := make([]string, 0, len(c.paired))
	var tempSum float64
	for id := range c.paired {
		paired = append(paired, id)
		tempSum += c.states[id].Temperature
	}
	sort.Strings(paired)

	avg := 0.0
	if len(paired) > 0 {
		avg = tempSum / float64(len(paired))
	}

	pairs := make([]persistence.DeviceStatePair, 0, len(c.states))
	for id, state := range c.states {
		pairs = append(pairs, persistence.DeviceStatePair{ID: id, State: stateToDoc(state)})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].ID < pairs[j].ID })

	mode := "off"
	if c.globalMode != nil {
		mode = c.globalMode()
	}
	c.mu.Unlock()

	return c.store.Save(&persistence.CoordinatorState{
		PairedDevices:      paired,
		AverageTemperature: avg,
		CurrentMode:        mode,
		DeviceStates:       pairs,
	})
}

func stateToDoc(state smartthings.DeviceState) persistence.DeviceStateDoc {
	doc := persistence.DeviceStateDoc{
		CurrentTemperature: state.Temperature,
		HeatingSetpoint:    copyFloat(state.HeatingSetpoint),
		CoolingSetpoint:    copyFloat(state.CoolingSetpoint),
		Mode:               string(state.Mode),
		Switch:             onOff(state.SwitchOn),
		DisplayLight:       onOff(state.DisplayLightOn),
		LastUpdated:        state.UpdatedAt,
	}
	if target, ok := state.EffectiveSetpoint(); ok {
		doc.TargetSetpoint = &target
	}
	return doc
}

func docToState(doc persistence.DeviceStateDoc) smartthings.DeviceState {
	return smartthings.DeviceState{
		Temperature:     doc.CurrentTemperature,
		HeatingSetpoint: copyFloat(doc.HeatingSetpoint),
		CoolingSetpoint: copyFloat(doc.CoolingSetpoint),
		Mode:            smartthings.Mode(doc.Mode),
		SwitchOn:        doc.Switch == "on",
		DisplayLightOn:  doc.DisplayLight == "on",
		UpdatedAt:       doc.LastUpdated,
	}
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
