package streamer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// placeholderPattern matches any {token} in a command argument. The
// match is deliberately broad so that misspelt placeholders like
// {Width} or {device2} are caught at validation instead of reaching
// the spawned command verbatim.
var placeholderPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// validateTemplate checks every placeholder in the command template.
// Only {width}, {height} and {device} are recognised, and {device} is
// valid only when a bind is configured.
func validateTemplate(args []string, hasBind bool) error {
	for _, arg := range args {
		for _, match := range placeholderPattern.FindAllStringSubmatch(arg, -1) {
			switch match[1] {
			case "width", "height":
			case "device":
				if !hasBind {
					return fmt.Errorf("placeholder {device} in %q requires a configured bind", arg)
				}
			default:
				return fmt.Errorf("unknown placeholder %q in command argument %q", match[0], arg)
			}
		}
	}
	return nil
}

// renderCommand substitutes the placeholders into each argument
// independently and returns the final argv.
func renderCommand(tmpl []string, width, height int, device string) []string {
	replacer := strings.NewReplacer(
		"{width}", strconv.Itoa(width),
		"{height}", strconv.Itoa(height),
		"{device}", device,
	)

	argv := make([]string, len(tmpl))
	for i, arg := range tmpl {
		argv[i] = replacer.Replace(arg)
	}
	return argv
}
