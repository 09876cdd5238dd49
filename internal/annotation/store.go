// Package annotation keeps free-text notes on graph entities. Notes are
// deduplicated by title within one owner: the first note written under a
// title is kept and later ones are dropped.
package annotation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"cartograph/internal/domain"
	"cartograph/internal/repository"
)

// Store attaches notes inside the caller's transaction
type Store struct {
	logger *zap.Logger
}

// New creates a Store
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{logger: logger.Named("annotation")}
}

// Attach adds note to owner. It returns false when owner already has a note
// with the same title; the existing note is left untouched.
func (s *Store) Attach(ctx context.Context, tx repository.Tx, owner domain.Handle, note domain.NoteObservation) (bool, error) {
	if !owner.Kind.NoteOwner() {
		return false, fmt.Errorf("%w: %s cannot own notes", domain.ErrInvalidObservation, owner.Kind)
	}
	if owner.IsZero() {
		return false, fmt.Errorf("%w: note owner has no id", domain.ErrInvalidObservation)
	}
	if err := domain.Validate(&note); err != nil {
		return false, err
	}

	existing, err := tx.NoteByTitle(ctx, owner, note.Title)
	if err != nil {
		return false, fmt.Errorf("failed to look up note %q: %w", note.Title, err)
	}
	if existing != nil {
		s.logger.Debug("duplicate note title dropped",
			zap.Stringer("owner", owner),
			zap.String("title", note.Title))
		return false, nil
	}

	n := &domain.Note{
		Owner:    owner,
		Title:    note.Title,
		Content:  note.Content,
		Interest: note.Interest,
		Source:   note.Source,
	}
	if note.Confidence != nil {
		n.Confidence = domain.ClampConfidence(*note.Confidence)
	}
	if err := tx.CreateNote(ctx, n); err != nil {
		return false, fmt.Errorf("failed to attach note %q: %w", note.Title, err)
	}
	return true, nil
}

// List returns owner's notes with Interest <= maxInterest, most important
// first. A negative maxInterest returns every note.
func (s *Store) List(ctx context.Context, tx repository.Tx, owner domain.Handle, maxInterest int) ([]domain.Note, error) {
	notes, err := tx.ListNotes(ctx, owner, maxInterest)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes for %s: %w", owner, err)
	}
	return notes, nil
}
