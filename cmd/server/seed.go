package main

import (
	"fmt"
	"time"

	"github.com/kiranshivaraju/pmengine/internal/store"
	"github.com/kiranshivaraju/pmengine/pkg/models"
)

var demoSuppliers = []struct{ name, email string }{
	{"TechServ Inc", "service@techserv.example"},
	{"MainCo Solutions", "pm@mainco.example"},
	{"FixIt Pro", "dispatch@fixitpro.example"},
	{"Industrial Care", "care@industrialcare.example"},
	{"ReliaTech", "support@reliatech.example"},
}

var demoMachineTypes = []string{
	"CNC Mill", "Lathe", "Press", "Grinder", "Welder",
	"Conveyor", "Robot Arm", "Drill Press", "Band Saw", "Plasma Cutter",
}

var demoFrequencies = []int{30, 60, 365}

var demoNotes = []string{
	"Regular maintenance performed. All systems operational.",
	"Routine inspection completed. No issues found.",
	"Parts lubricated and checked. Running smoothly.",
	"Replaced worn belt and recalibrated sensors.",
}

// demoOffsets are days from today to next PM: overdue, due soon, then ok.
var demoOffsets = []int{-45, -12, -3, 2, 7, 14, 21, 29, 45, 60, 90, 120, 180, 240, 330}

// seedDemoFleet loads a fixed fleet with a spread of PM statuses and a short
// maintenance history per machine. It returns the number of machines added.
func seedDemoFleet(st *store.MemoryStore, now time.Time) int {
	today := models.Day(now)

	for i, offset := range demoOffsets {
		freq := demoFrequencies[i%len(demoFrequencies)]
		supplier := demoSuppliers[i%len(demoSuppliers)]
		next := today.AddDate(0, 0, offset)
		last := next.AddDate(0, 0, -freq)
		id := fmt.Sprintf("MACH-%03d", i+1)

		st.PutMachine(models.Machine{
			ID:              id,
			Name:            fmt.Sprintf("%s %d", demoMachineTypes[i%len(demoMachineTypes)], i+1),
			Location:        fmt.Sprintf("Zone %c", 'A'+rune(i%5)),
			PMFrequencyDays: freq,
			LastPMDate:      &last,
			NextPMDate:      next,
			SupplierName:    supplier.name,
			SupplierEmail:   supplier.email,
			CreatedAt:       now,
			UpdatedAt:       now,
		})

		for j := 0; j < 3; j++ {
			kind := models.MaintenancePreventive
			if (i+j)%4 == 3 {
				kind = models.MaintenanceCorrective
			}
			st.PutMaintenanceRecord(models.MaintenanceRecord{
				MachineID:       id,
				MaintenanceDate: last.AddDate(0, 0, -freq*j),
				Type:            kind,
				PerformedBy:     supplier.name,
				Notes:           demoNotes[(i+j)%len(demoNotes)],
				CreatedAt:       now,
			})
		}
	}
	return len(demoOffsets)
}
