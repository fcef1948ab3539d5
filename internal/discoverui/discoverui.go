// Package discoverui renders the output of disk discovery and enrollment
// status to a terminal, including duplicate disk-id warnings that call
// out a config that needs a rename.
package discoverui

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/johnjoeallen/timevault/internal/admin"
	"github.com/johnjoeallen/timevault/internal/diskdiscover"
)

// PrintWarnings writes each warning to w as a blank-line-bracketed block,
// matching the spacing `timevault disk discover` uses to make a rename
// hint stand out from the candidate listing around it.
func PrintWarnings(w io.Writer, warnings []string) {
	for _, msg := range warnings {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "WARNING: %s\n", msg)
		fmt.Fprintln(w)
	}
}

// PrintCandidates writes one block per candidate in the order given,
// reporting every signal diskdiscover.Candidate recorded about it.
func PrintCandidates(w io.Writer, candidates []diskdiscover.Candidate) {
	if len(candidates) == 0 {
		fmt.Fprintln(w, "no candidate backup devices found")
		return
	}
	for _, c := range candidates {
		printCandidate(w, c)
	}
}

func printCandidate(w io.Writer, c diskdiscover.Candidate) {
	fmt.Fprintf(w, "uuid: %s\n", c.UUID)
	fmt.Fprintf(w, "  device: %s\n", c.Device)
	if c.MountedAt != "" {
		fmt.Fprintf(w, "  mounted: %s\n", c.MountedAt)
	} else {
		fmt.Fprintln(w, "  mounted: no")
	}
	if c.CapacityBytes != nil {
		fmt.Fprintf(w, "  capacity: %s\n", admin.HumanSize(*c.CapacityBytes))
	} else {
		fmt.Fprintln(w, "  capacity: unknown")
	}
	fmt.Fprintf(w, "  enrolled: %s\n", yesNo(c.Enrolled))
	if c.Identity != nil {
		fmt.Fprintf(w, "  identity.diskId: %s\n", c.Identity.DiskID)
		fmt.Fprintf(w, "  identity.fsUuid: %s\n", c.Identity.FsUUID)
		if c.Identity.FsType != nil {
			fmt.Fprintf(w, "  identity.fsType: %s\n", *c.Identity.FsType)
		}
		fmt.Fprintf(w, "  identity.created: %s\n", c.Identity.Created)
	}
	if c.FsType != nil {
		fmt.Fprintf(w, "  fsType: %s\n", c.FsType.String())
	}
	fmt.Fprintf(w, "  empty: %s\n", maybeYesNo(c.Empty))
	fmt.Fprintf(w, "  removable: %s\n", maybeYesNo(c.Removable))
	fmt.Fprintf(w, "  reason: %s\n", joinComma(c.Reasons))
	fmt.Fprintln(w)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func maybeYesNo(b *bool) string {
	if b == nil {
		return "unknown"
	}
	return yesNo(*b)
}

func joinComma(items []string) string {
	if len(items) == 0 {
		return ""
	}
	out := items[0]
	for _, s := range items[1:] {
		out += ", " + s
	}
	return out
}

// IsInteractive reports whether stdout is an interactive terminal.
// `disk discover` uses this to gate a "scanning..." progress hint on
// stderr: a scripted, piped invocation gets clean stdout output only.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
