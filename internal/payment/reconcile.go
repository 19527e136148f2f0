package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/xmoney-bridge/internal/cart"
	"github.com/noah-isme/xmoney-bridge/internal/common"
	"github.com/noah-isme/xmoney-bridge/internal/events"
	"github.com/noah-isme/xmoney-bridge/internal/obs"
	"github.com/noah-isme/xmoney-bridge/internal/order"
	"github.com/noah-isme/xmoney-bridge/internal/xmoney"
)

// Source names the path that triggered a reconciliation.
type Source string

const (
	SourceClient       Source = "client"
	SourceNotification Source = "notification"
	SourceSweep        Source = "sweep"
)

// Result describes what a reconciliation did to the order.
type Result string

const (
	ResultApplied       Result = "applied"
	ResultNoop          Result = "noop"
	ResultRejected      Result = "rejected"
	ResultUnrecognized  Result = "unrecognized"
	ResultDeferred      Result = "deferred"
	ResultReviewPending Result = "review_pending"
)

// Error codes returned by the reconciliation paths.
const (
	CodeOrderIDMissing         = "order_id_missing"
	CodeExternalOrderIDMissing = "external_order_id_missing"
	CodeExternalOrderMismatch  = "external_order_id_mismatch"
	CodeInvalidOrderID         = "invalid_order_id"
	CodeAmountMismatch         = "amount_mismatch"
	CodeConflict               = "reconcile_conflict"
)

// PaymentResult is a client- or processor-reported outcome. It is untrusted.
type PaymentResult struct {
	ExternalOrderID   string
	TransactionStatus string
	TransactionID     string
}

// Tentative is a display-only reading of a PaymentResult.
type Tentative struct {
	Status     string         `json:"status"`
	Outcome    xmoney.Outcome `json:"outcome"`
	Successful bool           `json:"successful"`
}

// TentativeStatus classifies the reported status for UX feedback. It must
// never drive an order write.
func TentativeStatus(res PaymentResult) Tentative {
	return Tentative{
		Status:     res.TransactionStatus,
		Outcome:    xmoney.Classify(res.TransactionStatus),
		Successful: xmoney.IsSuccessfulPaymentStatus(res.TransactionStatus),
	}
}

// Decision is a verified outcome. Only Apply consumes it.
type Decision struct {
	ExternalOrderID string
	Outcome         xmoney.Outcome
	Verification    xmoney.VerificationResult
	TransactionID   string
}

// Reconciliation reports what happened to one order.
type Reconciliation struct {
	OrderID int64
	From    order.Status
	To      order.Status
	Result  Result
	Outcome xmoney.Outcome
}

// Reconciler is the only writer of payment-driven order status.
type Reconciler struct {
	Orders   order.Store
	Carts    cart.Store
	Verifier xmoney.Verifier
	Events   events.Emitter
	Logger   zerolog.Logger
	Now      func() time.Time
	// MaxAttempts bounds compare-and-set retries after a lost race.
	MaxAttempts int
}

// AuthoritativeStatus asks the processor for the outcome of externalOrderID.
func (r *Reconciler) AuthoritativeStatus(ctx context.Context, externalOrderID string) (Decision, error) {
	if r == nil || r.Verifier == nil {
		return Decision{}, common.NewKindError(common.KindConfiguration, CodeNotConfigured, "Payment verification is not configured", nil)
	}
	res, err := r.Verifier.VerifyPaymentStatus(ctx, externalOrderID)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		ExternalOrderID: externalOrderID,
		Outcome:         xmoney.Classify(res.OrderStatus),
		Verification:    res,
		TransactionID:   res.TransactionID,
	}, nil
}

// Complete handles the checkout page's completion call: it re-verifies the
// payment and applies the verified outcome. A verification failure leaves
// the status untouched, flags the order for review and returns the error.
func (r *Reconciler) Complete(ctx context.Context, orderID int64, externalOrderID string) (Reconciliation, error) {
	ctx, span := otel.Tracer("payment.Reconciler").Start(ctx, "Complete")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", orderID), attribute.String("xmoney.external_order_id", externalOrderID))

	externalOrderID = strings.TrimSpace(externalOrderID)
	if orderID <= 0 {
		return Reconciliation{}, common.NewKindError(common.KindValidation, CodeOrderIDMissing, "Order ID is missing", nil)
	}
	if externalOrderID == "" {
		return Reconciliation{}, common.NewKindError(common.KindValidation, CodeExternalOrderIDMissing, "External order ID is missing", nil)
	}
	if !IsTempOrderID(externalOrderID) && externalOrderID != strconv.FormatInt(orderID, 10) {
		return Reconciliation{}, common.NewKindError(common.KindValidation, CodeExternalOrderMismatch, "External order ID does not belong to this order", nil)
	}
	o, err := r.load(ctx, orderID)
	if err != nil {
		return Reconciliation{}, err
	}
	return r.verifyAndApply(ctx, o, externalOrderID, "", SourceClient, true)
}

// Notification is an inbound processor push.
type Notification struct {
	ExternalOrderID string
	StatusHint      string
	TransactionID   string
}

// Notify handles a processor notification. Temporary ids are deferred to
// checkout. The status hint is only logged.
func (r *Reconciler) Notify(ctx context.Context, n Notification) (Reconciliation, error) {
	ctx, span := otel.Tracer("payment.Reconciler").Start(ctx, "Notify")
	defer span.End()
	ext := strings.TrimSpace(n.ExternalOrderID)
	span.SetAttributes(attribute.String("xmoney.external_order_id", ext))

	if ext == "" {
		return Reconciliation{}, common.NewKindError(common.KindValidation, CodeExternalOrderIDMissing, "Missing externalOrderId", nil)
	}
	if IsTempOrderID(ext) {
		r.Logger.Info().Str("external_order_id", ext).Str("status_hint", n.StatusHint).Str("source", string(SourceNotification)).Msg("xmoney_notification_deferred")
		return Reconciliation{Result: ResultDeferred}, nil
	}
	orderID, err := strconv.ParseInt(ext, 10, 64)
	if err != nil || orderID <= 0 {
		return Reconciliation{}, common.NewKindError(common.KindValidation, CodeInvalidOrderID, "Invalid order ID format", err)
	}
	o, err := r.load(ctx, orderID)
	if err != nil {
		return Reconciliation{}, err
	}
	r.Logger.Info().Int64("order_id", orderID).Str("external_order_id", ext).Str("status_hint", n.StatusHint).Msg("xmoney_notification_received")
	return r.verifyAndApply(ctx, o, ext, n.TransactionID, SourceNotification, true)
}

// Apply moves the order to the status implied by d, guarded by the current
// status. Side effects run only when this call wins the status change.
func (r *Reconciler) Apply(ctx context.Context, orderID int64, d Decision, src Source) (Reconciliation, error) {
	rec := Reconciliation{OrderID: orderID, Outcome: d.Outcome}
	log := r.Logger.With().
		Int64("order_id", orderID).
		Str("external_order_id", d.ExternalOrderID).
		Str("processor_status", d.Verification.OrderStatus).
		Str("source", string(src)).
		Logger()

	target, ok := targetStatus(d.Outcome)
	if !ok {
		if o, err := r.load(ctx, orderID); err == nil {
			rec.From, rec.To = o.Status, o.Status
		}
		rec.Result = ResultUnrecognized
		log.Warn().Msg("xmoney_status_unrecognized: left for manual review")
		obs.ObserveTransition(string(src), "none", string(rec.Result))
		return rec, nil
	}

	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	for i := 0; i < attempts; i++ {
		o, err := r.load(ctx, orderID)
		if err != nil {
			return rec, err
		}
		rec.From, rec.To = o.Status, o.Status
		transition := string(o.Status) + "->" + string(target)

		if o.Status == target {
			rec.Result = ResultNoop
			log.Debug().Str("transition", transition).Msg("xmoney_transition_noop")
			obs.ObserveTransition(string(src), transition, string(rec.Result))
			return rec, nil
		}
		if !AllowedTransition(o.Status, target) {
			rec.Result = ResultRejected
			log.Info().Str("transition", transition).Msg("xmoney_transition_rejected")
			obs.ObserveTransition(string(src), transition, string(rec.Result))
			return rec, nil
		}

		won, err := r.Orders.CompareAndSetStatus(ctx, orderID, r.transition(o, target, d))
		if err != nil {
			return rec, err
		}
		if !won {
			log.Debug().Str("transition", transition).Int("attempt", i+1).Msg("xmoney_transition_lost_race")
			continue
		}
		rec.To = target
		rec.Result = ResultApplied
		log.Info().Str("transition", transition).Msg("xmoney_transition_applied")
		obs.ObserveTransition(string(src), transition, string(rec.Result))
		r.afterTransition(ctx, log, o, target, d, src)
		return rec, nil
	}
	obs.ObserveTransition(string(src), "none", "conflict")
	return rec, common.NewKindError(common.KindInternal, CodeConflict, "order status kept changing during reconciliation", nil)
}

// AllowedTransition is the status guard. Terminal states never move back to
// OnHold or Failed; only Paid may still be refunded.
func AllowedTransition(from, to order.Status) bool {
	switch to {
	case order.StatusPaid:
		return from == order.StatusPending || from == order.StatusOnHold || from == order.StatusFailed
	case order.StatusFailed:
		return from == order.StatusPending || from == order.StatusOnHold
	case order.StatusRefunded:
		return from == order.StatusPending || from == order.StatusOnHold || from == order.StatusPaid
	case order.StatusOnHold:
		return from == order.StatusPending
	}
	return false
}

// FlagReview records that verification could not complete. Status is left
// unchanged.
func (r *Reconciler) FlagReview(ctx context.Context, orderID int64, externalOrderID, reason string) error {
	return r.Orders.Annotate(ctx, orderID,
		"xMoney payment verification pending: "+reason,
		map[string]string{
			order.MetaReviewPending:   strconv.FormatInt(r.now().Unix(), 10),
			order.MetaExternalOrderID: externalOrderID,
		})
}

func (r *Reconciler) verifyAndApply(ctx context.Context, o order.Order, ext, transactionID string, src Source, flag bool) (Reconciliation, error) {
	d, err := r.decide(ctx, o, ext)
	if err != nil {
		r.Logger.Warn().Err(err).
			Int64("order_id", o.ID).
			Str("external_order_id", ext).
			Str("source", string(src)).
			Str("kind", string(common.KindOf(err))).
			Msg("xmoney_verification_failed")
		obs.ObserveTransition(string(src), "none", string(ResultReviewPending))
		if flag {
			if ferr := r.FlagReview(ctx, o.ID, ext, err.Error()); ferr != nil {
				r.Logger.Error().Err(ferr).Int64("order_id", o.ID).Msg("xmoney_flag_review_failed")
			}
		}
		return Reconciliation{OrderID: o.ID, From: o.Status, To: o.Status, Result: ResultReviewPending}, err
	}
	if d.TransactionID == "" {
		d.TransactionID = transactionID
	}
	rec, err := r.Apply(ctx, o.ID, d, src)
	if err != nil && common.CodeOf(err, "") == CodeConflict {
		r.Logger.Warn().Int64("order_id", o.ID).Str("external_order_id", ext).Str("source", string(src)).Msg("xmoney_transition_conflict")
		if flag {
			if ferr := r.FlagReview(ctx, o.ID, ext, err.Error()); ferr != nil {
				r.Logger.Error().Err(ferr).Int64("order_id", o.ID).Msg("xmoney_flag_review_failed")
			}
		}
		rec.Result = ResultReviewPending
	}
	return rec, err
}

// decide verifies ext and cross-checks a successful result against the
// order total.
func (r *Reconciler) decide(ctx context.Context, o order.Order, ext string) (Decision, error) {
	d, err := r.AuthoritativeStatus(ctx, ext)
	if err != nil {
		return Decision{}, err
	}
	if d.Outcome == xmoney.OutcomePaid && !amountsMatch(o, d.Verification) {
		return Decision{}, common.NewKindError(common.KindAPI, CodeAmountMismatch,
			fmt.Sprintf("amount mismatch: order %s %s, processor %s %s", o.Total, o.Currency, d.Verification.Amount, d.Verification.Currency), nil)
	}
	return d, nil
}

func (r *Reconciler) transition(o order.Order, to order.Status, d Decision) order.Transition {
	status := d.Verification.OrderStatus
	t := order.Transition{
		From:       o.Status,
		FromStored: o.StoredStatus,
		To:         to,
		SetMeta:    map[string]string{order.MetaExternalOrderID: d.ExternalOrderID},
		DeleteMeta: []string{order.MetaReviewPending},
	}
	switch to {
	case order.StatusPaid:
		t.Note = fmt.Sprintf("xMoney payment verified (status: %s).", status)
		setIfPresent(t.SetMeta, order.MetaProcessorOrderID, d.Verification.OrderID)
		setIfPresent(t.SetMeta, order.MetaProcessorCustomerID, d.Verification.CustomerID)
		setIfPresent(t.SetMeta, order.MetaTransactionID, d.TransactionID)
	case order.StatusFailed:
		t.Note = fmt.Sprintf("xMoney payment failed (status: %s).", status)
	case order.StatusRefunded:
		t.Note = fmt.Sprintf("xMoney payment refunded or cancelled (status: %s).", status)
	case order.StatusOnHold:
		t.Note = fmt.Sprintf("xMoney payment pending (status: %s).", status)
	}
	return t
}

func (r *Reconciler) afterTransition(ctx context.Context, log zerolog.Logger, o order.Order, to order.Status, d Decision, src Source) {
	if to == order.StatusPaid && r.Carts != nil && o.SessionID != "" {
		if err := r.Carts.Clear(ctx, o.SessionID); err != nil {
			log.Error().Err(err).Msg("xmoney_cart_clear_failed")
		}
	}
	if r.Events == nil {
		return
	}
	topic := topicFor(to)
	payload := map[string]any{
		"orderId":          strconv.FormatInt(o.ID, 10),
		"externalOrderId":  d.ExternalOrderID,
		"processorOrderId": d.Verification.OrderID,
		"processorStatus":  d.Verification.OrderStatus,
		"from":             string(o.Status),
		"to":               string(to),
		"source":           string(src),
	}
	if _, err := r.Events.Emit(ctx, topic, strconv.FormatInt(o.ID, 10), payload); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("xmoney_event_emit_failed")
	}
}

func (r *Reconciler) load(ctx context.Context, orderID int64) (order.Order, error) {
	if r == nil || r.Orders == nil {
		return order.Order{}, common.NewKindError(common.KindConfiguration, CodeNotConfigured, "Order store is not configured", nil)
	}
	o, err := r.Orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return order.Order{}, common.NewKindError(common.KindNotFound, CodeOrderNotFound, "Order not found", err)
		}
		return order.Order{}, err
	}
	return o, nil
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func targetStatus(o xmoney.Outcome) (order.Status, bool) {
	switch o {
	case xmoney.OutcomePaid:
		return order.StatusPaid, true
	case xmoney.OutcomeFailed:
		return order.StatusFailed, true
	case xmoney.OutcomeRefunded:
		return order.StatusRefunded, true
	case xmoney.OutcomeOnHold:
		return order.StatusOnHold, true
	}
	return "", false
}

func topicFor(s order.Status) string {
	switch s {
	case order.StatusPaid:
		return events.TopicOrderPaid
	case order.StatusFailed:
		return events.TopicPaymentFailed
	case order.StatusRefunded:
		return events.TopicPaymentRefunded
	default:
		return events.TopicPaymentOnHold
	}
}

func amountsMatch(o order.Order, v xmoney.VerificationResult) bool {
	if v.Currency != "" && o.Currency != "" && !strings.EqualFold(v.Currency, o.Currency) {
		return false
	}
	if v.Amount == "" {
		return true
	}
	got, err := NormalizeAmount(v.Amount)
	if err != nil {
		return true
	}
	want, err := NormalizeAmount(o.Total)
	if err != nil {
		return true
	}
	return got == want
}

func setIfPresent(m map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" && v != "0" {
		m[key] = v
	}
}
