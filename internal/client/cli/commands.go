package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/slalomtime/racesync/internal/client/persistence"
	clientsync "github.com/slalomtime/racesync/internal/client/sync"
	"github.com/slalomtime/racesync/internal/common"
	"github.com/slalomtime/racesync/internal/race"
)

func (a *App) login(ctx context.Context) {
	pin, err := GetPin(a.out)
	if err != nil {
		fmt.Fprintf(a.out, "could not read PIN: %v\n", err)
		return
	}
	err = a.api.SubmitPin(ctx, pin, a.config.DeviceID, a.config.Role)
	switch {
	case err == nil:
		fmt.Fprintln(a.out, "Authenticated.")
	case errors.Is(err, common.ErrUnauthorized):
		fmt.Fprintln(a.out, "Wrong PIN.")
	case errors.Is(err, common.ErrValidation):
		fmt.Fprintln(a.out, "PIN must be exactly 4 digits.")
	default:
		fmt.Fprintf(a.out, "login failed: %v\n", err)
	}
}

func (a *App) listRaces(ctx context.Context) {
	races, err := a.api.ListRaces(ctx)
	if err != nil {
		fmt.Fprintf(a.out, "could not list races: %v\n", err)
		return
	}
	if len(races) == 0 {
		fmt.Fprintln(a.out, "No races.")
		return
	}
	for _, r := range races {
		updated := "never"
		if r.LastUpdated != nil {
			updated = time.UnixMilli(*r.LastUpdated).Format(time.RFC3339)
		}
		fmt.Fprintf(a.out, "%s\tentries=%d devices=%d updated=%s\n",
			r.ID, r.EntryCount, r.DeviceCount, updated)
	}
}

func (a *App) joinRace(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(a.out, "usage: join <race-id>")
		return
	}
	a.session.SetRace(args[0], clientsync.Identity{
		DeviceID:   a.config.DeviceID,
		DeviceName: a.config.DeviceName,
		Role:       a.config.Role,
	})
	a.requestFastPoll()
	fmt.Fprintf(a.out, "Joined race %s as %s.\n", args[0], a.config.Role)
}

func (a *App) deleteRace(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(a.out, "usage: delete-race <race-id>")
		return
	}
	if err := a.api.DeleteRace(ctx, args[0]); err != nil {
		fmt.Fprintf(a.out, "could not delete race: %v\n", err)
		return
	}
	fmt.Fprintln(a.out, "Race deleted.")
}

func (a *App) recordEntry(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(a.out, "usage: entry <bib> <S|F> [run]")
		return
	}
	point := args[1]
	if point != race.PointStart && point != race.PointFinish {
		fmt.Fprintln(a.out, "point must be S or F")
		return
	}
	run := 1
	if len(args) > 2 {
		n, err := strconv.Atoi(args[2])
		if err != nil || n < 1 {
			fmt.Fprintln(a.out, "run must be a positive number")
			return
		}
		run = n
	}

	entry := a.clock.NewEntry(args[0], point, run, a.config.DeviceID, a.config.DeviceName)

	var entries []race.Entry
	if _, err := a.store.Get(ctx, persistence.SliceEntries, &entries); err != nil {
		fmt.Fprintf(a.out, "local storage error: %v\n", err)
		return
	}
	if race.IsDuplicateEntry(entry, entries) {
		fmt.Fprintf(a.out, "bib %s already recorded at %s for run %d\n", entry.Bib, point, run)
		return
	}
	if err := a.store.Put(persistence.SliceEntries, append(entries, entry)); err != nil {
		fmt.Fprintf(a.out, "local storage error: %v\n", err)
		return
	}
	fmt.Fprintf(a.out, "Recorded bib %s at %s (%s).\n", entry.Bib, point, entry.TimeSource)

	// Best effort; the entry is already safe locally.
	if raceID := a.session.RaceID(); raceID != "" {
		if dup, err := a.api.AddEntry(ctx, raceID, entry); err != nil {
			fmt.Fprintf(a.out, "cloud publish failed, will stay local: %v\n", err)
		} else if dup {
			fmt.Fprintln(a.out, "Another device already published this event.")
		}
	}
}

func (a *App) listEntries(ctx context.Context) {
	var entries []race.Entry
	if _, err := a.store.Get(ctx, persistence.SliceEntries, &entries); err != nil {
		fmt.Fprintf(a.out, "local storage error: %v\n", err)
		return
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.out, "No entries.")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(a.out, "%s\tbib=%s point=%s run=%d at=%s src=%s\n",
			e.ID, e.Bib, e.Point, e.Run, time.UnixMilli(e.Timestamp).Format("15:04:05.000"), e.TimeSource)
	}
}

func (a *App) recordFault(ctx context.Context, args []string) {
	if len(args) < 3 {
		fmt.Fprintln(a.out, "usage: fault <bib> <gate> <type> [run]")
		return
	}
	gate, err := strconv.Atoi(args[1])
	if err != nil || gate < 1 {
		fmt.Fprintln(a.out, "gate must be a positive number")
		return
	}
	run := 1
	if len(args) > 3 {
		n, err := strconv.Atoi(args[3])
		if err != nil || n < 1 {
			fmt.Fprintln(a.out, "run must be a positive number")
			return
		}
		run = n
	}

	fault := a.clock.NewFault(args[0], run, gate, args[2], [2]int{gate, gate},
		a.config.DeviceID, a.config.DeviceName)

	var faults []race.Fault
	if _, err := a.store.Get(ctx, persistence.SliceFaults, &faults); err != nil {
		fmt.Fprintf(a.out, "local storage error: %v\n", err)
		return
	}
	if err := a.store.Put(persistence.SliceFaults, append(faults, fault)); err != nil {
		fmt.Fprintf(a.out, "local storage error: %v\n", err)
		return
	}
	fmt.Fprintf(a.out, "Recorded %s fault for bib %s at gate %d.\n", fault.FaultType, fault.Bib, gate)

	if a.session.SendFaultToCloud(ctx, fault) {
		fmt.Fprintln(a.out, "Published.")
	}
}

func (a *App) listFaults(ctx context.Context) {
	var faults []race.Fault
	if _, err := a.store.Get(ctx, persistence.SliceFaults, &faults); err != nil {
		fmt.Fprintf(a.out, "local storage error: %v\n", err)
		return
	}
	if len(faults) == 0 {
		fmt.Fprintln(a.out, "No faults.")
		return
	}
	for _, f := range faults {
		status := "local"
		if f.SyncedAt != nil {
			status = "synced"
		}
		if f.MarkedForDeletion {
			status = "deleting"
		}
		fmt.Fprintf(a.out, "%s\tbib=%s gate=%d type=%s v%d by=%s [%s]\n",
			f.ID, f.Bib, f.GateNumber, f.FaultType, f.CurrentVersion, f.DeviceName, status)
	}
}

func (a *App) deleteFault(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(a.out, "usage: delete-fault <fault-id>")
		return
	}
	id := args[0]

	var faults []race.Fault
	if _, err := a.store.Get(ctx, persistence.SliceFaults, &faults); err != nil {
		fmt.Fprintf(a.out, "local storage error: %v\n", err)
		return
	}
	marked := false
	for i := range faults {
		if faults[i].ID == id {
			faults[i].MarkedForDeletion = true
			marked = true
		}
	}
	if !marked {
		fmt.Fprintln(a.out, "No such fault.")
		return
	}
	if err := a.store.Put(persistence.SliceFaults, faults); err != nil {
		fmt.Fprintf(a.out, "local storage error: %v\n", err)
		return
	}

	if !a.session.DeleteFaultFromCloud(ctx, id) {
		fmt.Fprintln(a.out, "Marked for deletion; cloud delete pending (chief judge role required).")
		return
	}

	remaining := faults[:0]
	for _, f := range faults {
		if f.ID != id {
			remaining = append(remaining, f)
		}
	}
	if err := a.store.Put(persistence.SliceFaults, remaining); err != nil {
		fmt.Fprintf(a.out, "local storage error: %v\n", err)
		return
	}
	fmt.Fprintln(a.out, "Fault deleted.")
}

func (a *App) syncNow(ctx context.Context) {
	if err := a.session.FetchCloudFaults(ctx); err != nil {
		fmt.Fprintf(a.out, "pull failed: %v\n", err)
	}
	pushed := a.session.PushLocalFaults(ctx)
	fmt.Fprintf(a.out, "Sync done, pushed %d fault(s).\n", pushed)

	for _, ga := range a.session.OtherGateAssignments() {
		fmt.Fprintf(a.out, "gate judge %s covers gates %d-%d\n", ga.DeviceID, ga.GateStart, ga.GateEnd)
	}
}

func (a *App) nextBib(ctx context.Context) {
	raceID := a.session.RaceID()
	if raceID == "" {
		fmt.Fprintln(a.out, "join a race first")
		return
	}
	highest, err := a.api.HighestBib(ctx, raceID)
	if err != nil {
		fmt.Fprintf(a.out, "could not fetch highest bib: %v\n", err)
		return
	}
	fmt.Fprintf(a.out, "Highest published bib is %d, next suggestion: %s.\n",
		highest, race.NormalizeBib(strconv.Itoa(highest+1)))
}

func (a *App) showDevices(ctx context.Context) {
	count, err := a.session.Heartbeat(ctx)
	if err != nil {
		fmt.Fprintf(a.out, "heartbeat failed: %v\n", err)
		return
	}
	fmt.Fprintf(a.out, "%d device(s) active.\n", count)
	for _, id := range a.session.ConnectedDevices() {
		fmt.Fprintf(a.out, "  %s\n", id)
	}
}
