package agent

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/host"
)

const basePrompt = `You are a software engineering agent working inside the user's project.

Work step by step. Use the sequentialthinking tool to reason through
non-trivial problems before acting. When the user's request has been
fully addressed, call the task_done tool exactly once with a short
summary; do not call it while work remains.

Be precise. Prefer small, verifiable changes. Report failures honestly
instead of guessing.`

// BuildSystemPrompt assembles the default system prompt: base
// instructions, host context, and the available tool list.
func BuildSystemPrompt(projectPath string, toolNames []string) string {
	var sb strings.Builder
	sb.WriteString(basePrompt)

	sb.WriteString("\n\n# Environment\n")
	sb.WriteString(fmt.Sprintf("- os: %s/%s\n", runtime.GOOS, runtime.GOARCH))
	if info, err := host.Info(); err == nil {
		if p := strings.TrimSpace(info.Platform); p != "" {
			sb.WriteString(fmt.Sprintf("- platform: %s %s\n", p, strings.TrimSpace(info.PlatformVersion)))
		}
		if h := strings.TrimSpace(info.Hostname); h != "" {
			sb.WriteString(fmt.Sprintf("- host: %s\n", h))
		}
	}
	if wd := strings.TrimSpace(projectPath); wd != "" {
		sb.WriteString(fmt.Sprintf("- project: %s\n", wd))
	} else if wd, err := os.Getwd(); err == nil {
		sb.WriteString(fmt.Sprintf("- project: %s\n", wd))
	}

	if len(toolNames) > 0 {
		sb.WriteString("\n# Available tools\n")
		for _, name := range toolNames {
			if name = strings.TrimSpace(name); name != "" {
				sb.WriteString("- " + name + "\n")
			}
		}
	}
	return strings.TrimSpace(sb.String())
}
