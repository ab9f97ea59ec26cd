package app

import (
	"savings_circle/internal/domain/community"

	"github.com/sirupsen/logrus"
)

// ReconcileReport lists what a reconciliation pass found.
type ReconcileReport struct {
	Relinked        int
	Unresolved      int // mid-cycles whose cycle number matches no cycle
	OpenMidCycles   int
	CountMismatches int
}

// Reconcile re-links orphaned mid-cycles to the cycle with their cycle number
// and logs any state that cannot be repaired automatically.
func Reconcile(st *community.State, logger *logrus.Entry) ReconcileReport {
	var report ReconcileReport
	log := logger.WithField("community_id", st.Community.ID)

	for _, mc := range st.MidCycles {
		if !mc.IsComplete {
			report.OpenMidCycles++
		}

		parent := st.CycleByID(mc.CycleID)
		if parent == nil || parent.CycleNumber != mc.CycleNumber {
			parent = st.CycleByNumber(mc.CycleNumber)
		}
		if parent == nil {
			report.Unresolved++
			log.WithFields(logrus.Fields{
				"mid_cycle_id": mc.ID,
				"cycle_number": mc.CycleNumber,
			}).Error("Mid-cycle has no cycle with its number")
			continue
		}
		moved := mc.CycleID != parent.ID
		mc.CycleID = parent.ID
		if parent.LinkMidCycle(mc.ID) || moved {
			report.Relinked++
			log.WithFields(logrus.Fields{
				"mid_cycle_id": mc.ID,
				"cycle_number": parent.CycleNumber,
			}).Warn("Orphaned mid-cycle re-linked")
		}

		if !mc.IsComplete && len(mc.Contributions) != mc.ContributionsToNextInLine.Len() {
			report.CountMismatches++
			log.WithFields(logrus.Fields{
				"mid_cycle_id":        mc.ID,
				"contributors":        len(mc.Contributions),
				"running_total_users": mc.ContributionsToNextInLine.Len(),
			}).Warn("Contribution records and running totals disagree")
		}
	}

	if report.OpenMidCycles > 1 {
		log.WithField("open_mid_cycles", report.OpenMidCycles).Error("More than one open mid-cycle")
	}
	return report
}
