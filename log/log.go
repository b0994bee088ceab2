package log

import (
	"log"

	"github.com/fatih/color"
	"github.com/taskmaster-app/tmsync/common"
)

var prefix = color.New(color.FgHiWhite).SprintFunc()

func DebugPrint(show bool, msg string, maxChars int) {
	if show {
		log.Println(prefix(common.LibName), "|", truncate(msg, maxChars))
	}
}

func truncate(msg string, maxChars int) string {
	if maxChars > 0 && len(msg) > maxChars {
		return msg[:maxChars] + "..."
	}

	return msg
}
