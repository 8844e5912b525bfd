package banner

import (
	"github.com/charmbracelet/lipgloss"
)

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	style := renderer.NewStyle().
		Foreground(lipgloss.Color("#7D56F4")).
		Bold(true)

	ascii := `
                 __  __                    __
   ________  ____/ /_/ /_  ___  ____  _____/ /_
  / ___/ _ \/ ___/ __/ __ \/ _ \/ __ \/ ___/ __ \
 / /  /  __(__  ) /_/ /_/ /  __/ / / / /__/ / / /
/_/   \___/____/\__/_.___/\___/_/ /_/\___/_/ /_/`

	return "\n" + style.Render(ascii) + "\n"
}
