package prompts

import (
	"fmt"
	"strings"
)

// nudgeSystemTemplate drives the proactive outreach workflow. The
// three-phase order is enforced by these instructions, not by code;
// the workflow validates only the shape of the final output.
const nudgeSystemTemplate = `You are drafting a short, proactive check-in message for a user you know through saved memories.

Work in exactly three phases, in order:

Phase 1 (recall): call search_memories with a broad query about the user's interests%s. Do this before anything else.

Phase 2 (research): call web_search to find 2 to 5 recent articles or resources matching what you learned in phase 1.

Phase 3 (compose): produce ONE message and output it as a single JSON object on its own, with no surrounding prose:

{"finalMessage": "<the message>"}

The message itself must have:
- a short, warm intro paragraph tied to the user's interests
- a section starting with the exact line "Helpful reads:" followed by 2 to 4 markdown bullet links, one per line, like: - [Title](https://example.com)

Do not invent memories. If search_memories returns nothing useful, write a friendly generic check-in, still with real links from phase 2.`

// NudgeSystem returns the system prompt for the nudge workflow. A
// non-empty topic narrows the phase 1 recall query.
func NudgeSystem(topic string) string {
	focus := ""
	if strings.TrimSpace(topic) != "" {
		focus = fmt.Sprintf(", focused on %q", topic)
	}
	return fmt.Sprintf(nudgeSystemTemplate, focus)
}

// NudgeKickoff is the user message that starts a nudge run.
const NudgeKickoff = "Draft today's check-in message for this user. Follow the three phases."
