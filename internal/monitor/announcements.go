package monitor

import (
	"context"
	"fmt"
	"strings"

	"feedwatch/internal/config"
	"feedwatch/internal/credentials"
	"feedwatch/internal/notify"
	logx "feedwatch/pkg/logx"
)

type announcementFeed struct {
	Articles []announcement `json:"articles"`
}

type announcement struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// pollAnnouncements fetches the exchange listing page and relays articles
// whose title matches any configured keyword. No keywords means every new
// article matches.
func (m *Monitor) pollAnnouncements(ctx context.Context, ent config.EntityConfig, cred *credentials.Credential, log logx.Logger) error {
	var feed announcementFeed
	if err := m.getJSON(ctx, cred, ent.Feed, &feed); err != nil {
		return err
	}

	fresh := 0
	for _, a := range feed.Articles {
		if a.ID == "" || !matchKeywords(a.Title, ent.Keywords) {
			continue
		}
		key := fmt.Sprintf("ann:%s:%s", ent.ID, a.ID)
		if m.wasSeen(ctx, key) {
			continue
		}
		m.relay(ctx, notify.Message{
			EntityID: ent.ID,
			Kind:     config.KindAnnouncements,
			Title:    a.Title,
			Link:     a.URL,
		})
		m.markSeen(ctx, key, seenTTL)
		fresh++
	}
	if fresh > 0 {
		log.Info("announcements relayed", logx.Int("count", fresh))
	} else {
		log.Debug("no matching announcements", logx.Int("fetched", len(feed.Articles)))
	}
	return nil
}

func matchKeywords(title string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	t := strings.ToLower(title)
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(t, k) {
			return true
		}
	}
	return false
}
