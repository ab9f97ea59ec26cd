package app

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestReconcileRelinksByCycleNumber(t *testing.T) {
	st := newRunningState(3)
	mc := st.OpenMidCycle()
	mc.CycleID = uuid.New()
	st.Cycles[0].MidCycleIDs = nil

	report := Reconcile(st, quietLogger())
	assert.Equal(t, 1, report.Relinked)
	assert.Zero(t, report.Unresolved)
	assert.Equal(t, 1, report.OpenMidCycles)
	assert.Equal(t, st.Cycles[0].ID, mc.CycleID)
	assert.Equal(t, []uuid.UUID{mc.ID}, st.Cycles[0].MidCycleIDs)

	again := Reconcile(st, quietLogger())
	assert.Zero(t, again.Relinked, "a second pass finds nothing to repair")
}

func TestReconcileReportsUnrepairableState(t *testing.T) {
	st := newRunningState(3)
	mc := st.OpenMidCycle()
	mc.CycleNumber = 7
	mc.CycleID = uuid.New()

	report := Reconcile(st, quietLogger())
	assert.Equal(t, 1, report.Unresolved)
	assert.Zero(t, report.Relinked)
}

func TestReconcileCountsMismatches(t *testing.T) {
	st := newRunningState(3)
	contributeAll(st, 1, 2)
	st.OpenMidCycle().Contributions[3] = []uuid.UUID{uuid.New()}

	report := Reconcile(st, quietLogger())
	assert.Equal(t, 1, report.CountMismatches)

	done := newRunningState(3)
	done.MidCycles[0].IsComplete = true
	done.MidCycles[0].Contributions[2] = []uuid.UUID{uuid.New()}
	assert.Zero(t, Reconcile(done, quietLogger()).CountMismatches)
	assert.Zero(t, Reconcile(done, quietLogger()).OpenMidCycles)
}
