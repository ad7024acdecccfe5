package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/onnwee/lurkbot/economy"
	"github.com/onnwee/lurkbot/leveling"
	"github.com/onnwee/lurkbot/telemetry"
)

func (p *Processor) handlePoints(ctx context.Context, d Delivery) error {
	u, err := p.store.GetUser(ctx, d.Sender.ID)
	if errors.Is(err, economy.ErrUserNotFound) {
		p.say(ctx, fmt.Sprintf("@%s, you are not in the database yet. Stay awhile and listen!", d.Sender.Name))
		return nil
	}
	if err != nil {
		return err
	}
	lv := leveling.Level(u.XP)
	p.say(ctx, fmt.Sprintf("@%s, you have %d points | Level %d (%d%%, %d XP to next)",
		d.Sender.Name, u.Points, lv.Level, lv.ProgressPercent, lv.XPToNext))
	return nil
}

func (p *Processor) handleShop(ctx context.Context, d Delivery) error {
	items, err := p.store.ListEnabledItems(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		// Lazy seed keeps fresh deploys usable without an admin step.
		if err := p.store.SeedDefaultShopItems(ctx); err != nil {
			return err
		}
		if items, err = p.store.ListEnabledItems(ctx); err != nil {
			return err
		}
	}
	if len(items) == 0 {
		p.say(ctx, fmt.Sprintf("@%s, the shop is empty right now.", d.Sender.Name))
		return nil
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%s (%d pts)", it.Name, it.Cost))
	}
	p.say(ctx, fmt.Sprintf("@%s, shop: %s. Use !buy <item> to redeem.", d.Sender.Name, strings.Join(parts, ", ")))
	return nil
}

func (p *Processor) handleBuy(ctx context.Context, d Delivery) error {
	name := strings.TrimSpace(d.Args)
	if name == "" {
		p.say(ctx, fmt.Sprintf("@%s, usage: !buy <item>. See !shop for the list.", d.Sender.Name))
		return nil
	}
	item, remaining, err := p.store.PurchaseItem(ctx, d.Sender.ID, name)
	switch {
	case errors.Is(err, economy.ErrItemNotFound):
		p.say(ctx, fmt.Sprintf("@%s, there is no %q in the shop. Try !shop.", d.Sender.Name, name))
		return nil
	case errors.Is(err, economy.ErrInsufficientPoints):
		have := 0
		if u, uerr := p.store.GetUser(ctx, d.Sender.ID); uerr == nil {
			have = u.Points
		}
		p.say(ctx, fmt.Sprintf("@%s, you don't have enough points! Need %d, have %d.", d.Sender.Name, item.Cost, have))
		return nil
	case err != nil:
		return err
	}
	telemetry.PointsSpent.Add(float64(item.Cost))
	p.say(ctx, fmt.Sprintf("@%s redeemed %s for %d points! %d points left.", d.Sender.Name, item.Name, item.Cost, remaining))
	return nil
}

func (p *Processor) handleMsg(ctx context.Context, d Delivery) error {
	text := strings.TrimSpace(d.Args)
	if text == "" {
		p.say(ctx, fmt.Sprintf("@%s, usage: !msg <text> (%d pts)", d.Sender.Name, p.policy.MsgCost))
		return nil
	}
	cost := p.policy.MsgCost
	if cost > 0 {
		_, err := p.store.SpendPoints(ctx, d.Sender.ID, cost, "Paid echo via !msg")
		if errors.Is(err, economy.ErrInsufficientPoints) {
			have := 0
			if u, uerr := p.store.GetUser(ctx, d.Sender.ID); uerr == nil {
				have = u.Points
			}
			p.say(ctx, fmt.Sprintf("@%s, you need %d points to use !msg. You have %d.", d.Sender.Name, cost, have))
			return nil
		}
		if err != nil {
			return err
		}
		telemetry.PointsSpent.Add(float64(cost))
	}
	p.say(ctx, fmt.Sprintf("[%d pts] @%s says: %s", cost, d.Sender.Name, text))
	return nil
}

func (p *Processor) handleCommandList(ctx context.Context, d Delivery) error {
	p.say(ctx, fmt.Sprintf(
		"@%s, commands: !points, !shop, !buy <item>, !msg <text> (%d pts), !music <yt link> (%d pts), !queuecheck (%d pts)",
		d.Sender.Name, p.policy.MsgCost, p.policy.QueueAddCost, p.policy.QueueCheckCost))
	return nil
}

// resolveVideo validates the music argument. A nil resolver means the feature
// is off (no API key and no recognizable link support wired).
func (p *Processor) resolveVideo(ctx context.Context, d Delivery, arg string) (string, bool, error) {
	if p.videos == nil {
		p.say(ctx, fmt.Sprintf("@%s, music requests are not available right now.", d.Sender.Name))
		return "", false, nil
	}
	id, err := p.videos.ResolveVideoID(ctx, arg)
	if err != nil {
		p.say(ctx, fmt.Sprintf("@%s, I couldn't find a YouTube video for that. Send a link or a search term.", d.Sender.Name))
		return "", false, nil
	}
	return id, true, nil
}

func (p *Processor) handleQueueAdd(ctx context.Context, d Delivery) error {
	arg := strings.TrimSpace(d.Args)
	if arg == "" {
		p.say(ctx, fmt.Sprintf("@%s, usage: !music <yt link or search> (%d pts)", d.Sender.Name, p.policy.QueueAddCost))
		return nil
	}
	videoID, ok, err := p.resolveVideo(ctx, d, arg)
	if !ok || err != nil {
		return err
	}
	// Resolve before charging so a bad link never costs anything.
	proceed, err := p.chargeQueue(ctx, d, p.policy.QueueAddCost, "Queued video "+videoID)
	if !proceed || err != nil {
		return err
	}
	p.emit(ctx, Signal{Kind: SignalQueueAdd, Fields: []string{videoID, d.Sender.Name}})
	p.say(ctx, fmt.Sprintf("@%s, added to the queue!", d.Sender.Name))
	return nil
}

func (p *Processor) handleInstantPlay(ctx context.Context, d Delivery) error {
	if !d.Sender.IsModerator && !d.Sender.IsBroadcaster {
		p.say(ctx, fmt.Sprintf("@%s, only moderators can use !play.", d.Sender.Name))
		return nil
	}
	arg := strings.TrimSpace(d.Args)
	if arg == "" {
		p.say(ctx, fmt.Sprintf("@%s, usage: !play <yt link or search>", d.Sender.Name))
		return nil
	}
	videoID, ok, err := p.resolveVideo(ctx, d, arg)
	if !ok || err != nil {
		return err
	}
	p.emit(ctx, Signal{Kind: SignalInstantPlay, Fields: []string{videoID, d.Sender.Name}})
	p.say(ctx, fmt.Sprintf("@%s, playing it now!", d.Sender.Name))
	return nil
}

// control builds a handler for the moderator-only playback controls. They are
// free; the overlay gets the signal and chat gets a short acknowledgement.
func (p *Processor) control(kind string) handlerFunc {
	return func(ctx context.Context, d Delivery) error {
		if !d.Sender.IsModerator && !d.Sender.IsBroadcaster {
			p.say(ctx, fmt.Sprintf("@%s, only moderators can control playback.", d.Sender.Name))
			return nil
		}
		p.emit(ctx, Signal{Kind: kind, Fields: []string{d.Sender.Name}})
		p.say(ctx, fmt.Sprintf("@%s, done!", d.Sender.Name))
		return nil
	}
}

func (p *Processor) handleQueueCheck(ctx context.Context, d Delivery) error {
	proceed, err := p.chargeQueue(ctx, d, p.policy.QueueCheckCost, "Queue check")
	if !proceed || err != nil {
		return err
	}
	p.emit(ctx, Signal{Kind: SignalQueueCheck, Fields: []string{d.Sender.Name}})
	p.say(ctx, fmt.Sprintf("@%s, asked the player for the current queue.", d.Sender.Name))
	return nil
}
