package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pm-updown-bot/internal/alerts"
	"pm-updown-bot/internal/ledger"

	"go.uber.org/zap"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID int64     `json:"update_id"`
	Time     time.Time `json:"time"`
	Action   string    `json:"action"`
	Command  string    `json:"command"`
	UserID   int64     `json:"user_id"`
	Username string    `json:"username,omitempty"`
	ChatID   int64     `json:"chat_id"`
	MarketID string    `json:"market_id,omitempty"`
	Blocked  bool      `json:"blocked"`
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || a.alerts == nil || a.log == nil {
		return
	}
	if !a.cfg.Telegram.OperatorEnabled || !a.alerts.Enabled() {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := a.cfg.Telegram.OperatorPollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.OperatorAllowedUsers))
	for _, id := range a.cfg.Telegram.OperatorAllowedUsers {
		allowedUsers[id] = struct{}{}
	}
	go a.operatorLoop(ctx, chatID, allowedUsers, pollInterval)
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := a.alerts.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			a.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if a.operatorWarned {
			a.log.Info("telegram operator recovered")
			a.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	if upd.Message.Chat.ID != chatID {
		return
	}
	if len(allowedUsers) > 0 {
		if _, ok := allowedUsers[upd.Message.From.ID]; !ok {
			return
		}
	}
	cmd, args, ok := parseOperatorCommand(upd.Message.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   upd.Message.From.ID,
		Username: upd.Message.From.Username,
		ChatID:   upd.Message.Chat.ID,
		Raw:      upd.Message.Text,
	}
	resp, err := a.handleOperatorCommand(ctx, cmd, args, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := a.alerts.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	return cmd, fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) (string, error) {
	switch cmd {
	case "status":
		return a.operatorStatus(), nil
	case "block":
		return a.setBlock(ctx, args, meta, true)
	case "unblock":
		return a.setBlock(ctx, args, meta, false)
	case "help":
		return operatorHelpText(), nil
	default:
		return operatorHelpText(), nil
	}
}

// setBlock toggles the safety block on one market or on all of them.
func (a *App) setBlock(ctx context.Context, args []string, meta operatorMeta, blocked bool) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("usage: /%s <market-id|all>", blockVerb(blocked))
	}
	target := args[0]
	now := time.Now()
	var hit []string
	if strings.EqualFold(target, "all") {
		for _, spec := range a.markets {
			a.engine.SetSafetyBlock(spec.ID, blocked, now)
			hit = append(hit, spec.ID)
		}
	} else {
		if _, ok := a.engine.Market(target); !ok {
			return "", fmt.Errorf("unknown market: %s", target)
		}
		a.engine.SetSafetyBlock(target, blocked, now)
		hit = append(hit, target)
	}
	a.auditOperatorEvent(ctx, operatorAuditEvent{
		UpdateID: meta.UpdateID,
		Time:     now.UTC(),
		Action:   blockVerb(blocked),
		Command:  meta.Raw,
		UserID:   meta.UserID,
		Username: meta.Username,
		ChatID:   meta.ChatID,
		MarketID: target,
		Blocked:  blocked,
	})
	state := "cleared"
	if blocked {
		state = "active"
	}
	return fmt.Sprintf("safety block %s: %s", state, strings.Join(hit, ", ")), nil
}

func blockVerb(blocked bool) string {
	if blocked {
		return "block"
	}
	return "unblock"
}

func (a *App) operatorStatus() string {
	lines := make([]string, 0, len(a.markets)+1)
	now := time.Now()
	lines = append(lines, fmt.Sprintf("markets: %d", len(a.markets)))
	for _, spec := range a.markets {
		m, ok := a.engine.Market(spec.ID)
		if !ok {
			continue
		}
		led := m.LedgerSnapshot()
		lines = append(lines, fmt.Sprintf("%s state=%s up=%.2f down=%.2f unpaired=%.2f %s blocked=%t closes_in=%s",
			spec.ID,
			m.PositionState(),
			led.UpShares,
			led.DownShares,
			led.UnpairedShares(),
			string(dominantOrDash(&led)),
			a.engine.SafetyBlocked(spec.ID),
			spec.ClosesAt.Sub(now).Truncate(time.Second),
		))
	}
	return strings.Join(lines, "\n")
}

func dominantOrDash(l *ledger.Ledger) ledger.Side {
	if l.UnpairedShares() == 0 {
		return "-"
	}
	return l.DominantSide()
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - per-market position and block state",
		"/block <market-id|all> - activate the safety block",
		"/unblock <market-id|all> - clear the safety block",
	}, "\n")
}

func (a *App) logOperatorError(err error) {
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	_ = a.store.Set(ctx, operatorOffsetKey, []byte(strconv.FormatInt(offset, 10)))
}

func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	key := fmt.Sprintf("ops:audit:%d:%d", time.Now().UTC().UnixNano(), event.UpdateID)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = a.store.Set(ctx, key, payload)
}
