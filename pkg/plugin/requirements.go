package plugin

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// RequirementsFileName lists the external commands a plugin needs on
// PATH, one per line. Blank lines and #-comments are ignored.
const RequirementsFileName = "requirements.txt"

// ensureRequirements checks the plugin's declared requirements,
// idempotently skipping the ones already satisfied. Missing commands
// fail activation before anything is registered.
func (p *Plugin) ensureRequirements() error {
	file, err := os.Open(filepath.Join(p.path, RequirementsFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read requirements: %w", err)
	}
	defer file.Close()

	var missing []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		name := scanner.Text()
		if idx := strings.Index(name, "#"); idx >= 0 {
			name = name[:idx]
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		if _, err := exec.LookPath(name); err != nil {
			missing = append(missing, name)
			continue
		}
		p.logger.Debug().Str("requirement", name).Msg("Requirement already satisfied")
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan requirements: %w", err)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required commands: %s", strings.Join(missing, ", "))
	}
	return nil
}
