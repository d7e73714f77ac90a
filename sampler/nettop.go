package sampler

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"netmonitor/errkind"
)

const nettopTimeout = 5 * time.Second

// NettopSource snapshots per-process counters with the macOS nettop tool.
// nettop reports cumulative bytes since process start, which is exactly the
// counter shape the delta engine expects.
type NettopSource struct{}

// Snapshot runs nettop once in process mode and parses its CSV output.
func (NettopSource) Snapshot(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, nettopTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "nettop", "-P", "-L", "1", "-J", "bytes_in,bytes_out", "-x")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: nettop: %v", errkind.ErrTransient, err)
	}
	return parseNettop(string(out)), nil
}

// parseNettop parses nettop CSV lines of the form "name.pid,bytes_in,bytes_out".
// Process names may themselves contain dots, so the pid is split off at the
// last one. Idle processes and unparseable lines are dropped.
func parseNettop(out string) Snapshot {
	snap := make(Snapshot)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ",bytes_in") {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 3 {
			continue
		}

		dot := strings.LastIndex(parts[0], ".")
		if dot <= 0 {
			continue
		}
		name := parts[0][:dot]
		if _, err := strconv.Atoi(parts[0][dot+1:]); err != nil {
			continue
		}

		bytesIn, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}
		bytesOut, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			continue
		}
		if bytesIn == 0 && bytesOut == 0 {
			continue
		}

		// nettop reports per pid; multiple pids of one process fold into a
		// single identity.
		cur := snap[Identity{ProcessName: name}]
		cur.BytesIn += bytesIn
		cur.BytesOut += bytesOut
		cur.ActiveConnections++
		snap[Identity{ProcessName: name}] = cur
	}
	return snap
}
