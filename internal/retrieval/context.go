package retrieval

import (
	"fmt"
	"strings"
	"time"
)

// ContextAssembler renders search results into a bounded text block for a
// downstream consumer. Blocks are atomic: a result that does not fit whole
// is dropped, never truncated mid-block.
type ContextAssembler struct {
	maxLength int
}

// NewContextAssembler creates an assembler with a character budget.
func NewContextAssembler(maxLength int) *ContextAssembler {
	return &ContextAssembler{maxLength: maxLength}
}

// Assemble renders profiles then casts, best scores first within each
// section, stopping when the budget is spent.
func (a *ContextAssembler) Assemble(profiles []ProfileResult, casts []CastResult) string {
	var sb strings.Builder
	remaining := a.maxLength

	writeBlock := func(block string) bool {
		if len(block) > remaining {
			return false
		}
		sb.WriteString(block)
		remaining -= len(block)
		return true
	}

	if len(profiles) > 0 {
		header := "## Profiles\n\n"
		if writeBlock(header) {
			for _, p := range profiles {
				if !writeBlock(profileBlock(p)) {
					break
				}
			}
		}
	}
	if len(casts) > 0 {
		header := "## Casts\n\n"
		if writeBlock(header) {
			for _, c := range casts {
				if !writeBlock(castBlock(c)) {
					break
				}
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func profileBlock(r ProfileResult) string {
	var sb strings.Builder
	name := r.Profile.Username()
	if name == "" {
		name = fmt.Sprintf("fid %d", r.Profile.Fid)
	} else {
		name = "@" + name
	}
	fmt.Fprintf(&sb, "- %s (fid %d, score %.3f)", name, r.Profile.Fid, r.Score)
	if dn := r.Profile.DisplayName(); dn != "" {
		fmt.Fprintf(&sb, " %s", dn)
	}
	sb.WriteString("\n")
	if bio := r.Profile.Bio(); bio != "" {
		fmt.Fprintf(&sb, "  %s\n", strings.ReplaceAll(bio, "\n", " "))
	}
	if loc := r.Profile.Fields["location"]; loc != "" {
		fmt.Fprintf(&sb, "  location: %s\n", loc)
	}
	sb.WriteString("\n")
	return sb.String()
}

func castBlock(r CastResult) string {
	var sb strings.Builder
	ts := time.Unix(r.Cast.Timestamp, 0).UTC().Format("2006-01-02")
	fmt.Fprintf(&sb, "- fid %d on %s (score %.3f, replies %d, reactions %d)\n",
		r.Cast.Fid, ts, r.Score, r.Cast.ReplyCount, r.Cast.ReactionCount)
	fmt.Fprintf(&sb, "  %s\n\n", strings.ReplaceAll(r.Cast.Text, "\n", " "))
	return sb.String()
}
