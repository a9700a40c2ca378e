package monitor

import (
	"context"
	"fmt"

	"feedwatch/internal/config"
	"feedwatch/internal/credentials"
	"feedwatch/internal/notify"
	logx "feedwatch/pkg/logx"
)

// socialFeed is the timeline shape returned by the social API.
type socialFeed struct {
	Posts []socialPost `json:"posts"`
}

type socialPost struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
}

// pollSocial fetches the entity's timeline and relays posts not seen before.
// Posts arrive newest-first; they are relayed oldest-first so the chat reads
// in order.
func (m *Monitor) pollSocial(ctx context.Context, ent config.EntityConfig, cred *credentials.Credential, log logx.Logger) error {
	var feed socialFeed
	if err := m.getJSON(ctx, cred, ent.Feed, &feed); err != nil {
		return err
	}

	fresh := 0
	for i := len(feed.Posts) - 1; i >= 0; i-- {
		p := feed.Posts[i]
		if p.ID == "" {
			continue
		}
		key := fmt.Sprintf("social:%s:%s", ent.ID, p.ID)
		if m.wasSeen(ctx, key) {
			continue
		}
		m.relay(ctx, notify.Message{
			EntityID: ent.ID,
			Kind:     config.KindSocial,
			Title:    "new post",
			Text:     p.Text,
			Link:     p.URL,
		})
		m.markSeen(ctx, key, seenTTL)
		fresh++
	}
	if fresh > 0 {
		log.Info("new posts relayed", logx.Int("count", fresh))
	} else {
		log.Debug("no new posts", logx.Int("fetched", len(feed.Posts)))
	}
	return nil
}
