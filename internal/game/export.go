package game

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kiliankoe/jemimas-asking/internal/room"
)

// ExportRoom appends the results of a finished room to a text file.
func ExportRoom(r *room.Room, filename string) error {
	if r.State != room.PhaseFinal {
		return ErrInvalidPhase
	}

	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	fileExists := false
	if _, err := os.Stat(filename); err == nil {
		fileExists = true
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var sb strings.Builder
	if fileExists {
		sb.WriteString("\n\n")
	}
	sb.WriteString(fmt.Sprintf("Jemima's Asking - Room %s\n", r.Code))
	sb.WriteString(fmt.Sprintf("Started: %s\n", r.Timestamps.CreatedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(strings.Repeat("=", 50) + "\n\n")

	for round := 1; round <= room.RoundCount; round++ {
		sb.WriteString(fmt.Sprintf("Round %d\n", round))
		sb.WriteString(strings.Repeat("-", 40) + "\n")
		for _, role := range room.Roles {
			score, _ := r.Scores.Get(role, round)
			bonus, _ := r.SpeedBonuses.Get(role, round)
			marked, _ := r.MarkingScores.Get(role, round)
			line := fmt.Sprintf("- %s: %d/%d correct, marking %d/%d", role, score, room.QuestionsPerRound, marked, room.QuestionsPerRound)
			if t, ok := r.Timings.Get(role, round); ok {
				line += fmt.Sprintf(", %.2fs", t.TotalSeconds)
			}
			if bonus > 0 {
				line += " (+1 speed)"
			}
			sb.WriteString(line + "\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("Maths (target %d)\n", r.Maths.Total))
	sb.WriteString(strings.Repeat("-", 40) + "\n")
	for _, role := range room.Roles {
		ma := r.MathsAnswers[role]
		if ma == nil || ma.Delta == nil || ma.Points == nil {
			sb.WriteString(fmt.Sprintf("- %s: no answer\n", role))
			continue
		}
		sb.WriteString(fmt.Sprintf("- %s: %d (off by %d) -> %d point(s)\n", role, ma.Total, *ma.Delta, *ma.Points))
	}

	sb.WriteString("\nTotals:\n")
	for _, role := range room.Roles {
		sb.WriteString(fmt.Sprintf("- %s: %d points\n", role, r.TotalScore(role)))
	}
	sb.WriteString(fmt.Sprintf("\nGame ended at %s\n", time.Now().Format("2006-01-02 15:04:05")))
	sb.WriteString(strings.Repeat("=", 50) + "\n")

	if _, err := file.WriteString(sb.String()); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}
