package document

import (
	"context"
	"time"
)

// IterateDocumentHistory returns the document state after each entry is
// applied, in topological order, alongside the authoring entry's metadata.
func (a *Assembler) IterateDocumentHistory(ctx context.Context, docID string) ([]HistoryStep, error) {
	entries, err := a.entriesForDoc(ctx, docID, time.Time{})
	if err != nil {
		return nil, err
	}
	ordered, err := topologicalSort(entries)
	if err != nil {
		return nil, err
	}
	_, history, err := a.fold(ordered)
	return history, err
}

// ChangeSincePage is one {doc, cursor} result of IterateChangesSince: the
// document whose frontier advanced, and the store cursor at the end of the
// scanned window (the same value IterateChangesSince returns).
type ChangeSincePage struct {
	Doc    *Document
	Cursor string
}

// IterateChangesSince walks the store's scan cursor and yields one page per
// document whose frontier advanced within the scanned window, in order of
// the advancing entry's (createdAt, id). The cursor is resumable: calling
// again with the last returned cursor continues from where it left off.
func (a *Assembler) IterateChangesSince(ctx context.Context, cursor string, limit int) ([]ChangeSincePage, string, bool, error) {
	entries, nextCursor, hasMore, err := a.store.ScanEntriesSince(ctx, cursor, limit, nil)
	if err != nil {
		return nil, "", false, err
	}

	seen := make(map[string]bool)
	var pages []ChangeSincePage
	for _, e := range entries {
		if seen[e.DocID] {
			continue
		}
		seen[e.DocID] = true

		doc, err := a.Assemble(ctx, e.DocID)
		if err != nil {
			continue // entry was skip-only (e.g. unreadable) or doc not yet creatable
		}
		pages = append(pages, ChangeSincePage{Doc: doc, Cursor: nextCursor})
	}

	return pages, nextCursor, hasMore, nil
}
