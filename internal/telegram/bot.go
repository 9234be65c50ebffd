package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nganmiu/voucherbot/internal/config"
	"github.com/nganmiu/voucherbot/internal/health"
	"github.com/nganmiu/voucherbot/internal/models"
	"github.com/nganmiu/voucherbot/internal/service"
)

const (
	labelActivate = "🎁 Activate (free gift)"
	labelTopup    = "💳 Top up"
	labelBalance  = "💰 Balance"
	labelVouchers = "🎟️ Vouchers"
	labelHistory  = "📜 Topup history"

	buyCallbackPrefix = "BUY:"
	comboTargetPrefix = "combo"

	maintenanceText = "⚠️ The system is under maintenance. Please try again in a couple of minutes."
)

type Bot struct {
	cfg         config.Config
	api         *tgbotapi.BotAPI
	log         *slog.Logger
	health      *health.State
	ledger      *service.LedgerService
	catalog     *service.CatalogService
	fulfillment *service.FulfillmentService
	topups      *service.TopupService
	abuse       *service.AbuseTracker
	pending     *PendingStore
}

func NewBot(cfg config.Config, api *tgbotapi.BotAPI, log *slog.Logger, state *health.State, ledger *service.LedgerService, catalog *service.CatalogService, fulfillment *service.FulfillmentService, topups *service.TopupService, abuse *service.AbuseTracker) *Bot {
	return &Bot{
		cfg:         cfg,
		api:         api,
		log:         log,
		health:      state,
		ledger:      ledger,
		catalog:     catalog,
		fulfillment: fulfillment,
		topups:      topups,
		abuse:       abuse,
		pending:     NewPendingStore(),
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started")

	for {
		select {
		case update := <-updates:
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			} else if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
			}
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	chatID := msg.Chat.ID
	userID := msg.From.ID
	username := msg.From.UserName

	if !b.health.Ready() {
		b.sendText(chatID, maintenanceText)
		return
	}
	if b.banGate(ctx, chatID, userID) {
		return
	}

	text := strings.TrimSpace(msg.Text)

	switch text {
	case "/start":
		b.handleStart(ctx, chatID, userID, username)
		return
	case labelActivate:
		b.handleActivate(ctx, chatID, userID, username)
		return
	case labelTopup:
		b.handleTopupInfo(ctx, chatID, userID, username)
		return
	case labelBalance, "/balance":
		b.handleBalance(ctx, chatID, userID)
		return
	case labelHistory, "/topup_history":
		b.handleHistory(ctx, chatID, userID)
		return
	case labelVouchers, "/vouchers":
		b.handleVoucherMenu(ctx, chatID)
		return
	}

	// A pending selection turns the next free-text message into the credential.
	if !strings.HasPrefix(text, "/") {
		if op, ok := b.pending.Take(userID); ok {
			b.handleCredential(ctx, chatID, userID, username, op.Target, text)
			return
		}
	}

	if strings.HasPrefix(text, "/") {
		b.handleDirectCommand(ctx, chatID, userID, username, text)
		return
	}

	b.handleUnknown(chatID, userID)
}

// handleUnknown answers input that matched nothing. A live pending
// operation gets a reminder instead of the generic menu prompt.
func (b *Bot) handleUnknown(chatID, userID int64) {
	if op, ok := b.pending.Peek(userID); ok {
		b.sendText(chatID, awaitingCredentialText(op.Target))
		return
	}
	b.sendKeyboard(chatID, "❌ Unknown command. Send /start for the menu.", mainKeyboard())
}

func awaitingCredentialText(target string) string {
	return fmt.Sprintf("👉 Still waiting for the credential (cookie) to save %s. Send it as a plain text message.", target)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.From == nil {
		return
	}
	userID := cb.From.ID
	chatID := userID
	if cb.Message != nil {
		chatID = cb.Message.Chat.ID
	}

	if !b.health.Ready() {
		b.answerCallback(cb.ID, maintenanceText, true)
		return
	}
	if banned, err := b.abuse.CheckBan(ctx, userID); err == nil && banned.Banned {
		b.answerCallback(cb.ID, "⛔ Account locked.", true)
		return
	}

	if !strings.HasPrefix(cb.Data, buyCallbackPrefix) {
		b.answerCallback(cb.ID, "⚠️ Unsupported action", true)
		return
	}
	target := strings.TrimPrefix(cb.Data, buyCallbackPrefix)

	account, err := b.ledger.Get(ctx, userID)
	if err != nil {
		b.answerCallback(cb.ID, "❌ No account yet. Send /start first.", true)
		return
	}
	if account.Status != models.StatusActive {
		b.answerCallback(cb.ID, "❌ Account not activated.", true)
		b.countFailure(ctx, userID)
		return
	}

	b.pending.Set(userID, target)
	b.answerCallback(cb.ID, "", false)
	b.sendText(chatID, fmt.Sprintf("👉 Send the credential (cookie) here to save %s", target))
}

func (b *Bot) handleStart(ctx context.Context, chatID, userID int64, username string) {
	account, _, err := b.ledger.Ensure(ctx, userID, username)
	if err != nil {
		b.log.Error("ensure account", "err", err)
		b.sendText(chatID, maintenanceText)
		return
	}

	if account.Status == models.StatusPending {
		balance, err := b.ledger.ActivateWithGift(ctx, userID, username, models.ActionAutoStart)
		if err != nil && !errors.Is(err, service.ErrAlreadyActivated) {
			b.log.Error("activate on start", "err", err)
			b.sendText(chatID, maintenanceText)
			return
		}
		if err == nil {
			b.sendKeyboard(chatID, fmt.Sprintf(
				"🎉 Account activated!\n\n🆔 ID: %d\n🎁 Gift: +%d\n💰 Balance: %d",
				userID, b.cfg.TrialGiftAmount, balance,
			), mainKeyboard())
			return
		}
	}
	b.sendKeyboard(chatID, "👋 Welcome back!", mainKeyboard())
}

func (b *Bot) handleActivate(ctx context.Context, chatID, userID int64, username string) {
	balance, err := b.ledger.ActivateWithGift(ctx, userID, username, models.ActionActivate)
	if err != nil {
		b.failAndMaybeBan(ctx, chatID, userID, err)
		return
	}
	b.sendKeyboard(chatID, fmt.Sprintf(
		"🎉 Activated!\n\n🆔 ID: %d\n🎁 Gift: +%d\n💰 Balance: %d\n\n👉 Use the buttons below to get started.",
		userID, b.cfg.TrialGiftAmount, balance,
	), mainKeyboard())
}

func (b *Bot) handleTopupInfo(ctx context.Context, chatID, userID int64, username string) {
	if _, _, err := b.ledger.Ensure(ctx, userID, username); err != nil {
		b.log.Error("ensure account for topup", "err", err)
		b.sendText(chatID, maintenanceText)
		return
	}

	memo := fmt.Sprintf("SEVQR %s %d", b.cfg.MemoMarker, userID)
	caption := fmt.Sprintf(
		"💳 Automatic topup\n\n📌 Transfer memo (required, exact):\n%s\n\n💰 Minimum topup: %d\n\n🎁 Bonuses:\n%s\n⚡ Funds arrive within 0-30 seconds.",
		memo, b.cfg.MinTopupAmount, bonusLines(b.cfg.BonusTiers),
	)

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(b.paymentQRURL(memo)))
	photo.Caption = caption
	if _, err := b.api.Send(photo); err != nil {
		b.log.Error("send topup qr", "err", err)
		b.sendText(chatID, caption)
	}
}

func (b *Bot) paymentQRURL(memo string) string {
	params := url.Values{}
	params.Set("acc", b.cfg.PaymentAccount)
	params.Set("bank", b.cfg.PaymentBank)
	params.Set("template", "compact")
	params.Set("des", memo)
	return b.cfg.PaymentQRBaseURL + "?" + params.Encode()
}

func bonusLines(tiers []config.BonusTier) string {
	var sb strings.Builder
	for i := len(tiers) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "• ≥ %d 🎁 +%d%%\n", tiers[i].MinAmount, tiers[i].BonusPercent)
	}
	return sb.String()
}

func (b *Bot) handleBalance(ctx context.Context, chatID, userID int64) {
	account, err := b.ledger.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			b.sendText(chatID, "❌ No account yet. Send /start to activate.")
			return
		}
		b.log.Error("get account", "err", err)
		b.sendText(chatID, maintenanceText)
		return
	}
	b.sendKeyboard(chatID, fmt.Sprintf("💰 Balance: %d\n📌 Status: %s", account.Balance, account.Status), mainKeyboard())
}

func (b *Bot) handleHistory(ctx context.Context, chatID, userID int64) {
	records, err := b.topups.History(ctx, userID, 10)
	if err != nil {
		b.log.Error("topup history", "err", err)
		b.sendText(chatID, maintenanceText)
		return
	}
	if len(records) == 0 {
		b.sendText(chatID, "📜 Topup history\nNo transactions yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString("📜 Topup history\n")
	for _, r := range records {
		fmt.Fprintf(&sb, "- %s | +%d | %s\n", r.CreatedAt.Format("2006-01-02 15:04"), r.Amount+r.Bonus, r.TxID)
	}
	b.sendText(chatID, sb.String())
}

func (b *Bot) handleVoucherMenu(ctx context.Context, chatID int64) {
	offers, err := b.catalog.ListAvailable(ctx)
	if err != nil {
		b.log.Error("list offers", "err", err)
		b.sendText(chatID, maintenanceText)
		return
	}
	if len(offers) == 0 {
		b.sendText(chatID, "🎁 No vouchers in stock right now.")
		return
	}

	var sb strings.Builder
	sb.WriteString("🎁 Vouchers in stock\n\n🟢 Single offers\n")
	combos := make(map[string][]models.VoucherOffer)
	comboOrder := []string{}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, offer := range offers {
		fmt.Fprintf(&sb, "• %s — %d\n", offer.Title, offer.Price)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💸 "+offer.Title, buyCallbackPrefix+offer.Code),
		))
		if offer.ComboKey != "" {
			if _, seen := combos[offer.ComboKey]; !seen {
				comboOrder = append(comboOrder, offer.ComboKey)
			}
			combos[offer.ComboKey] = append(combos[offer.ComboKey], offer)
		}
	}

	if len(comboOrder) > 0 {
		sb.WriteString("\n🟣 Combos\n")
		for _, key := range comboOrder {
			var total int64
			for _, offer := range combos[key] {
				total += offer.Price
			}
			fmt.Fprintf(&sb, "• %s: %d codes — %d\n", strings.ToUpper(key), len(combos[key]), total)
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("🎁 "+strings.ToUpper(key), buyCallbackPrefix+key),
			))
		}
	}
	sb.WriteString("\n👇 Tap a button below to buy")

	msg := tgbotapi.NewMessage(chatID, sb.String())
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send voucher menu", "err", err)
	}
}

func (b *Bot) handleDirectCommand(ctx context.Context, chatID, userID int64, username, text string) {
	parts := strings.SplitN(text, " ", 2)
	target := strings.TrimPrefix(parts[0], "/")
	credential := ""
	if len(parts) > 1 {
		credential = strings.TrimSpace(parts[1])
	}

	isCombo := strings.HasPrefix(target, comboTargetPrefix)
	if !isCombo && !strings.HasPrefix(target, "voucher") {
		b.handleUnknown(chatID, userID)
		return
	}

	if credential == "" {
		b.pending.Set(userID, target)
		b.sendText(chatID, fmt.Sprintf("👉 Send the credential (cookie) to save %s", target))
		return
	}
	b.handleCredential(ctx, chatID, userID, username, target, credential)
}

func (b *Bot) handleCredential(ctx context.Context, chatID, userID int64, username, target, credential string) {
	if strings.HasPrefix(target, comboTargetPrefix) {
		b.handleComboPurchase(ctx, chatID, userID, username, target, credential)
		return
	}
	b.handleOfferPurchase(ctx, chatID, userID, username, target, credential)
}

func (b *Bot) handleOfferPurchase(ctx context.Context, chatID, userID int64, username, code, credential string) {
	result, err := b.fulfillment.BuyOffer(ctx, userID, username, code, credential)
	if err != nil {
		b.failAndMaybeBan(ctx, chatID, userID, err)
		return
	}

	b.sendText(chatID, fmt.Sprintf("✅ Saved!\n💸 -%d\n💰 Balance: %d", result.Offer.Price, result.NewBalance))
	b.sendRebuyKeyboard(chatID, result.Offer.Title, result.Offer.Code)
}

func (b *Bot) handleComboPurchase(ctx context.Context, chatID, userID int64, username, comboKey, credential string) {
	result, err := b.fulfillment.BuyCombo(ctx, userID, username, comboKey, credential)
	if err != nil {
		b.failAndMaybeBan(ctx, chatID, userID, err)
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "✅ %s saved\n🎫 Saved: %d/%d\n💸 Charged: %d\n💰 Balance: %d",
		strings.ToUpper(comboKey), result.NSaved, result.NTotal, result.Total, result.NewBalance)
	if result.NSaved < result.NTotal {
		sb.WriteString("\n\n⚠️ Failed offers:\n")
		for _, outcome := range result.Outcomes {
			if !outcome.Saved {
				fmt.Fprintf(&sb, "- %s: %s\n", outcome.Offer.Title, outcome.Reason)
			}
		}
	}
	b.sendText(chatID, sb.String())
	b.sendRebuyKeyboard(chatID, strings.ToUpper(comboKey), comboKey)
}

// banGate reports whether the update must be dropped because the user is
// banned, sending the ban notice when so.
func (b *Bot) banGate(ctx context.Context, chatID, userID int64) bool {
	status, err := b.abuse.CheckBan(ctx, userID)
	if err != nil {
		b.log.Error("check ban", "user", userID, "err", err)
		return false
	}
	if !status.Banned {
		return false
	}
	b.sendText(chatID, banNotice(status, b.cfg.SupportContact))
	return true
}

// failAndMaybeBan reports a failed operation to the user. Counted failures
// feed the abuse tracker; when that triggers a ban, the ban notice replaces
// the normal error message.
func (b *Bot) failAndMaybeBan(ctx context.Context, chatID, userID int64, err error) {
	if isCountedFailure(err) && b.countFailure(ctx, userID) {
		b.sendText(chatID, fmt.Sprintf("⛔ Account locked for spamming. Contact %s", b.cfg.SupportContact))
		return
	}
	b.sendText(chatID, errorText(err))
}

func (b *Bot) countFailure(ctx context.Context, userID int64) bool {
	kind, err := b.abuse.RecordFailure(ctx, userID)
	if err != nil {
		b.log.Error("record failure", "user", userID, "err", err)
		return false
	}
	return kind != service.BanNone
}

func isCountedFailure(err error) bool {
	var redemptionErr *service.RedemptionError
	switch {
	case errors.Is(err, service.ErrNotActivated),
		errors.Is(err, service.ErrAlreadyActivated),
		errors.Is(err, service.ErrInsufficientFunds),
		errors.Is(err, service.ErrOfferNotFound),
		errors.Is(err, service.ErrOfferOutOfStock),
		errors.Is(err, service.ErrComboEmpty),
		errors.Is(err, service.ErrComboFailed),
		errors.Is(err, service.ErrAccountNotFound):
		return true
	case errors.As(err, &redemptionErr):
		return true
	}
	return false
}

func errorText(err error) string {
	var redemptionErr *service.RedemptionError
	switch {
	case errors.Is(err, service.ErrAccountNotFound):
		return "❌ No account yet. Send /start to activate."
	case errors.Is(err, service.ErrNotActivated):
		return "❌ Account not activated."
	case errors.Is(err, service.ErrAlreadyActivated):
		return "⚠️ Account already activated; the gift is granted only once."
	case errors.Is(err, service.ErrInsufficientFunds):
		return "❌ Insufficient balance."
	case errors.Is(err, service.ErrOfferNotFound):
		return "❌ Voucher not found."
	case errors.Is(err, service.ErrOfferOutOfStock):
		return "❌ Save failed. Please check the credential and code."
	case errors.Is(err, service.ErrComboEmpty):
		return "❌ This combo has no codes right now."
	case errors.Is(err, service.ErrComboFailed):
		return "❌ No codes were saved. Nothing was charged."
	case errors.As(err, &redemptionErr):
		return fmt.Sprintf("❌ Save failed (%s).\n💸 Nothing was charged.", redemptionErr.Reason)
	default:
		return maintenanceText
	}
}

func banNotice(status service.BanStatus, contact string) string {
	var sb strings.Builder
	sb.WriteString("⛔ Account locked\n\n🚫 Reason: spamming the system\n")
	if status.Permanent {
		sb.WriteString("⏰ Duration: permanent\n")
	} else {
		fmt.Fprintf(&sb, "⏰ Duration: temporary\n⏱️ Expires: %s\n", status.Until.Format("2006-01-02 15:04"))
	}
	if contact != "" {
		fmt.Fprintf(&sb, "\n📞 Contact: %s", contact)
	}
	return sb.String()
}

func mainKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(labelActivate),
			tgbotapi.NewKeyboardButton(labelTopup),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(labelBalance),
			tgbotapi.NewKeyboardButton(labelVouchers),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(labelHistory),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

func (b *Bot) sendRebuyKeyboard(chatID int64, title, target string) {
	msg := tgbotapi.NewMessage(chatID, "👉 Tap to buy again")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(title, buyCallbackPrefix+target),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send rebuy keyboard", "err", err)
	}
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "err", err)
	}
}

func (b *Bot) sendKeyboard(chatID int64, text string, keyboard tgbotapi.ReplyKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send keyboard", "err", err)
	}
}

func (b *Bot) answerCallback(id, text string, alert bool) {
	cb := tgbotapi.NewCallback(id, text)
	cb.ShowAlert = alert
	if _, err := b.api.Request(cb); err != nil {
		b.log.Error("answer callback", "err", err)
	}
}
