package session

import (
	"context"
	"time"

	"github.com/designsph/dsphcase/internal/hostdoc"
)

// GuardTick resets the rotation of every object inside a fill box group;
// the generator only supports axis aligned fill boxes. While no document is
// open the guard backs off. It returns the number of objects corrected.
func (s *Session) GuardTick(now time.Time) int {
	if now.Before(s.guardResume) {
		return 0
	}
	doc, err := s.cfg.Documents.Active()
	if err != nil {
		s.guardResume = now.Add(s.cfg.GuardBackoff)
		s.logger.Debug("Fill box guard idle", "error", err, "retryIn", s.cfg.GuardBackoff)
		return 0
	}

	fixed := 0
	for _, group := range doc.Objects() {
		if group.TypeID != hostdoc.GroupTypeID || !hostdoc.IsFillBox(group.Name) {
			continue
		}
		for _, name := range group.Children {
			child, ok := doc.Object(name)
			if !ok || child.Placement.Angle == 0 {
				continue
			}
			if err := doc.SetRotation(name, 0); err != nil {
				s.logger.Debug("Reset fill box rotation", "object", name, "error", err)
				continue
			}
			s.logger.Warn("Can't change fill box contents rotation", "object", name, "fillbox", group.Name)
			fixed++
		}
	}
	return fixed
}

// RunGuard posts a guard tick every guard interval until ctx is done.
// Without a dispatcher the ticks run on RunGuard's goroutine.
func (s *Session) RunGuard(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.GuardInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if s.cfg.Dispatcher == nil {
				s.GuardTick(now)
				continue
			}
			s.cfg.Dispatcher.Post(CmdGuardTick, nil)
		}
	}
}
