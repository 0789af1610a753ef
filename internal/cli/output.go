package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"chromefleet/internal/storage"
	"chromefleet/internal/storage/models"
	pkgerrors "chromefleet/pkg/errors"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB86C"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#BD93F9")).Width(14)
)

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

// field prints an aligned "label value" line.
func field(label string, value any) {
	fmt.Printf("  %s %v\n", labelStyle.Render(label+":"), value)
}

// resolveProfile looks a profile up by id first, then by case-insensitive
// name.
func resolveProfile(ctx context.Context, identifier string) (*models.Profile, error) {
	p, err := appInstance.Storage.GetProfile(ctx, identifier)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pkgerrors.ErrProfileNotFound) {
		return nil, err
	}

	profiles, err := appInstance.Storage.GetAllProfiles(ctx, storage.ProfileFilter{})
	if err != nil {
		return nil, err
	}
	var match *models.Profile
	for _, p := range profiles {
		if strings.EqualFold(p.Name, identifier) {
			if match != nil {
				return nil, fmt.Errorf("profile name %q is ambiguous, use the id", identifier)
			}
			match = p
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrProfileNotFound, identifier)
	}
	return match, nil
}

func truncateName(name string, maxLen int) string {
	if len(name) <= maxLen {
		return name
	}
	return name[:maxLen-3] + "..."
}

func statusLabel(status string) string {
	if status == models.StatusRunning {
		return okStyle.Render(status)
	}
	return dimStyle.Render(status)
}
