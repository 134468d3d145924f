package monitor

import (
	"context"
	"sort"
	"sync"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/ramboxcrty/GameRMCR/internal/model"
)

// KnownGames lists executables detected without any configuration.
var KnownGames = []string{
	"csgo.exe", "cs2.exe", "valorant.exe", "fortnite.exe",
	"gta5.exe", "gtav.exe", "rdr2.exe",
	"minecraft.exe", "javaw.exe",
	"dota2.exe", "leagueoflegends.exe", "lol.exe",
	"overwatch.exe", "apex_legends.exe",
	"pubg.exe", "tslgame.exe",
	"cyberpunk2077.exe", "eldenring.exe",
	"witcher3.exe", "rocketleague.exe",
}

// ProcessLister enumerates running processes.
type ProcessLister func(ctx context.Context) ([]model.Process, error)

// ListProcesses enumerates processes with gopsutil. Processes that vanish or
// deny access while being read are skipped.
func ListProcesses(ctx context.Context) ([]model.Process, error) {
	ps, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Process, 0, len(ps))
	for _, p := range ps {
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		out = append(out, model.Process{PID: p.Pid, Name: name})
	}
	return out, nil
}

// Detector finds running games and tracks which of them appeared or exited
// between scans.
type Detector struct {
	list ProcessLister

	mu      sync.Mutex
	games   map[string]bool
	ignored map[string]bool
	running map[int32]model.Process
}

// NewDetector creates a detector for KnownGames plus custom, minus ignore.
// A nil lister uses ListProcesses.
func NewDetector(list ProcessLister, custom, ignore []string) *Detector {
	if list == nil {
		list = ListProcesses
	}
	d := &Detector{
		list:    list,
		games:   make(map[string]bool),
		ignored: make(map[string]bool),
		running: make(map[int32]model.Process),
	}
	for _, g := range KnownGames {
		d.games[g] = true
	}
	for _, g := range custom {
		d.AddCustomGame(g)
	}
	for _, g := range ignore {
		d.ignored[model.NormalizeName(g)] = true
	}
	return d
}

// AddCustomGame adds an executable to the detection set.
func (d *Detector) AddCustomGame(exe string) {
	id := model.NormalizeName(exe)
	if id == "" {
		return
	}
	d.mu.Lock()
	d.games[id] = true
	d.mu.Unlock()
}

// RemoveCustomGame removes an executable from the detection set.
func (d *Detector) RemoveCustomGame(exe string) {
	d.mu.Lock()
	delete(d.games, model.NormalizeName(exe))
	d.mu.Unlock()
}

// IsGame reports whether name would be detected.
func (d *Detector) IsGame(name string) bool {
	id := model.NormalizeName(name)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.games[id] && !d.ignored[id]
}

// Scan lists running games, ordered by PID.
func (d *Detector) Scan(ctx context.Context) ([]model.Process, error) {
	procs, err := d.list(ctx)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.Process
	for _, p := range procs {
		id := p.Identity()
		if d.games[id] && !d.ignored[id] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

// Update scans and returns the games that started and exited since the last
// Update. The first call reports every running game as started.
func (d *Detector) Update(ctx context.Context) (started, exited []model.Process, err error) {
	games, err := d.Scan(ctx)
	if err != nil {
		return nil, nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	now := make(map[int32]model.Process, len(games))
	for _, g := range games {
		now[g.PID] = g
		if prev, ok := d.running[g.PID]; !ok || prev.Identity() != g.Identity() {
			started = append(started, g)
		}
	}
	for pid, g := range d.running {
		if cur, ok := now[pid]; !ok || cur.Identity() != g.Identity() {
			exited = append(exited, g)
		}
	}
	sort.Slice(exited, func(i, j int) bool { return exited[i].PID < exited[j].PID })
	d.running = now
	return started, exited, nil
}

// Running returns the games seen by the last Update.
func (d *Detector) Running() []model.Process {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.Process, 0, len(d.running))
	for _, p := range d.running {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}
