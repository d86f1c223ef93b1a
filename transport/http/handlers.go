package httptransport

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	creditcommand "github.com/goliatone/go-creditlots/command"
	"github.com/goliatone/go-creditlots/core"
	creditquery "github.com/goliatone/go-creditlots/query"
	"github.com/goliatone/go-creditlots/webhooks"
	goerrors "github.com/goliatone/go-errors"
	"github.com/shopspring/decimal"
)

type createLotBody struct {
	BrokerID       string          `json:"broker_id"`
	CreditType     string          `json:"credit_type"`
	TaxYear        int             `json:"tax_year"`
	Jurisdiction   string          `json:"jurisdiction"`
	TotalFaceValue int64           `json:"total_face_value"`
	MinBlock       int64           `json:"min_block"`
	PricePerDollar decimal.Decimal `json:"price_per_dollar"`
}

type priceBody struct {
	PricePerDollar decimal.Decimal `json:"price_per_dollar"`
}

type purchaseBody struct {
	LotID     string `json:"lot_id"`
	BuyerID   string `json:"buyer_id"`
	AmountUSD int64  `json:"amount_usd"`
}

type brokerStatusBody struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

type cancelBody struct {
	Reason string `json:"reason"`
}

func (a *API) createLot(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.start(r, "create_lot")
	defer span.End()

	actor, err := actorFrom(r)
	if err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	var body createLotBody
	if err := decodeBody(r, a.maxBodyBytes, &body); err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	lot, err := execute[creditcommand.CreateLotMessage, core.CreditLot](ctx, a.commands.CreateLot, creditcommand.CreateLotMessage{
		Request: core.CreateLotRequest{
			BrokerID:       body.BrokerID,
			CreditType:     body.CreditType,
			TaxYear:        body.TaxYear,
			Jurisdiction:   body.Jurisdiction,
			TotalFaceValue: body.TotalFaceValue,
			MinBlock:       body.MinBlock,
			PricePerDollar: body.PricePerDollar,
		},
		Actor: actor,
	})
	a.finish(w, span, http.StatusCreated, toLotView(lot), err)
}

func (a *API) listLots(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.start(r, "list_lots")
	defer span.End()

	params := r.URL.Query()
	limit, offset, err := paging(r)
	if err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	lots, err := query[creditquery.ListLotsMessage, []core.CreditLot](ctx, a.queries.ListLots, creditquery.ListLotsMessage{
		Filter: core.LotFilter{
			BrokerID: strings.TrimSpace(params.Get("broker_id")),
			Status:   core.LotStatus(strings.ToUpper(strings.TrimSpace(params.Get("status")))),
			Limit:    limit,
			Offset:   offset,
		},
	})
	a.finish(w, span, http.StatusOK, mapSlice(lots, toLotView), err)
}

func (a *API) getLot(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.start(r, "get_lot")
	defer span.End()

	lot, err := query[creditquery.GetLotMessage, core.CreditLot](ctx, a.queries.GetLot, creditquery.GetLotMessage{
		LotID: chi.URLParam(r, "lotID"),
	})
	a.finish(w, span, http.StatusOK, toLotView(lot), err)
}

func (a *API) capacitySummary(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.start(r, "capacity_summary")
	defer span.End()

	summary, err := query[creditquery.CapacitySummaryMessage, core.CapacitySummary](ctx, a.queries.CapacitySummary, creditquery.CapacitySummaryMessage{
		LotID: chi.URLParam(r, "lotID"),
	})
	a.finish(w, span, http.StatusOK, toCapacityView(summary), err)
}

func (a *API) publishLot(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.start(r, "publish_lot")
	defer span.End()

	msg, err := lotStatusMessage(r)
	if err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	lot, err := execute[creditcommand.PublishLotMessage, core.CreditLot](ctx, a.commands.PublishLot, creditcommand.PublishLotMessage{LotStatusMessage: msg})
	a.finish(w, span, http.StatusOK, toLotView(lot), err)
}

func (a *API) pauseLot(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.start(r, "pause_lot")
	defer span.End()

	msg, err := lotStatusMessage(r)
	if err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	lot, err := execute[creditcommand.PauseLotMessage, core.CreditLot](ctx, a.commands.PauseLot, creditcommand.PauseLotMessage{LotStatusMessage: msg})
	a.finish(w, span, http.StatusOK, toLotView(lot), err)
}

func (a *API) closeLot(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.start(r, "close_lot")
	defer span.End()

	msg, err := lotStatusMessage(r)
	if err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	lot, err := execute[creditcommand.CloseLotMessage, core.CreditLot](ctx, a.commands.CloseLot, creditcommand.CloseLotMessage{LotStatusMessage: msg})
	a.finish(w, span, http.StatusOK, toLotView(lot), err)
}

func (a *API) updateLotPrice(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.start(r, "update_lot_price")
	defer span.End()

	actor, err := actorFrom(r)
	if err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	var body priceBody
	if err := decodeBody(r, a.maxBodyBytes, &body); err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	lot, err := execute[creditcommand.UpdateLotPriceMessage, core.CreditLot](ctx, a.commands.UpdateLotPrice, creditcommand.UpdateLotPriceMessage{
		LotID:          chi.URLParam(r, "lotID"),
		PricePerDollar: body.PricePerDollar,
		Actor:          actor,
	})
	a.finish(w, span, http.StatusOK, toLotView(lot), err)
}

func (a *API) createHold(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.start(r, "create_hold")
	defer span.End()

	body, err := a.purchase(r)
	if err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	hold, err := execute[creditcommand.CreateHoldMessage, core.Hold](ctx, a.commands.CreateHold, creditcommand.CreateHoldMessage{
		Request: core.CreateHoldRequest{LotID: body.LotID, BuyerID: body.BuyerID, AmountUSD: body.AmountUSD},
	})
	a.finish(w, span, http.StatusCreated, toHoldView(hold), err)
}

func (a *API) listHolds(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.start(r, "list_holds")
	defer span.End()

	params := r.URL.Query()
	limit, _, err := paging(r)
	if err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	holds, err := query[creditquery.ListHoldsMessage, []core.Hold](ctx, a.queries.ListHolds, creditquery.ListHoldsMessage{
		Filter: core.HoldFilter{
			LotID:   strings.TrimSpace(params.Get("lot_id")),
			BuyerID: strings.TrimSpace(params.Get("buyer_id")),
			Status:  core.HoldStatus(strings.ToUpper(strings.TrimSpace(params.Get("status")))),
			Limit:   limit,
		},
	})
	a.finish(w, span, http.StatusOK, mapSlice(holds, toHoldView), err)
}

func (a *API) getHold(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.start(r, "get_hold")
	defer span.End()

	hold, err := query[creditquery.GetHoldMessage, core.Hold](ctx, a.queries.GetHold, creditquery.GetHoldMessage{
		HoldID: chi.URLParam(r, "holdID"),
	})
	a.finish(w, span, http.StatusOK, toHoldView(hold), err)
}

func (a *API) cancelHold(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.start(r, "cancel_hold")
	defer span.End()

	actor, err := actorFrom(r)
	if err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	msg := creditcommand.CancelHoldMessage{HoldID: chi.URLParam(r, "holdID"), Actor: actor}
	if err := validate(msg); err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	if err := a.commands.CancelHold.Execute(ctx, msg); err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) convertHold(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.start(r, "convert_hold")
	defer span.End()

	actor, err := actorFrom(r)
	if err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	order, err := execute[creditcommand.ConvertHoldMessage, core.PurchaseOrder](ctx, a.commands.ConvertHold, creditcommand.ConvertHoldMessage{
		HoldID: chi.URLParam(r, "holdID"),
		Actor:  actor,
	})
	a.finish(w, span, http.StatusCreated, toOrderView(order), err)
}

func (a *API) checkout(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.start(r, "checkout")
	defer span.End()

	body, err := a.purchase(r)
	if err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	order, err := execute[creditcommand.CheckoutMessage, core.PurchaseOrder](ctx, a.commands.Checkout, creditcommand.CheckoutMessage{
		Request: core.CheckoutRequest{LotID: body.LotID, BuyerID: body.BuyerID, AmountUSD: body.AmountUSD},
	})
	a.finish(w, span, http.StatusCreated, toOrderView(order), err)
}

func (a *API) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.start(r, "list_orders")
	defer span.End()

	params := r.URL.Query()
	limit, _, err := paging(r)
	if err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	var statuses []core.OrderStatus
	for _, raw := range strings.Split(params.Get("status"), ",") {
		if status := strings.ToUpper(strings.TrimSpace(raw)); status != "" {
			statuses = append(statuses, core.OrderStatus(status))
		}
	}
	orders, err := query[creditquery.ListOrdersMessage, []core.PurchaseOrder](ctx, a.queries.ListOrders, creditquery.ListOrdersMessage{
		Filter: core.OrderFilter{
			LotID:    strings.TrimSpace(params.Get("lot_id")),
			BuyerID:  strings.TrimSpace(params.Get("buyer_id")),
			Statuses: statuses,
			Limit:    limit,
		},
	})
	a.finish(w, span, http.StatusOK, mapSlice(orders, toOrderView), err)
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.start(r, "get_order")
	defer span.End()

	order, err := query[creditquery.GetOrderMessage, core.PurchaseOrder](ctx, a.queries.GetOrder, creditquery.GetOrderMessage{
		OrderID: chi.URLParam(r, "orderID"),
	})
	a.finish(w, span, http.StatusOK, toOrderView(order), err)
}

func (a *API) recordPaymentInitiated(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.start(r, "record_payment_initiated")
	defer span.End()

	actor, err := actorFrom(r)
	if err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	order, err := execute[creditcommand.RecordPaymentInitiatedMessage, core.PurchaseOrder](ctx, a.commands.RecordPaymentInitiated, creditcommand.RecordPaymentInitiatedMessage{
		OrderID: chi.URLParam(r, "orderID"),
		Actor:   actor,
	})
	a.finish(w, span, http.StatusOK, toOrderView(order), err)
}

func (a *API) setBrokerStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.start(r, "set_broker_status")
	defer span.End()

	actor, err := actorFrom(r)
	if err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	var body brokerStatusBody
	if err := decodeBody(r, a.maxBodyBytes, &body); err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	status, ok := core.ParseBrokerStatus(body.Status)
	if !ok {
		a.finish(w, span, 0, nil, requestError("status", "unknown broker status "+strconv.Quote(body.Status)))
		return
	}
	order, err := execute[creditcommand.SetBrokerStatusMessage, core.PurchaseOrder](ctx, a.commands.SetBrokerStatus, creditcommand.SetBrokerStatusMessage{
		Request: core.SetBrokerStatusRequest{
			OrderID: chi.URLParam(r, "orderID"),
			Status:  status,
			Actor:   actor,
			Note:    body.Note,
		},
	})
	a.finish(w, span, http.StatusOK, toOrderView(order), err)
}

func (a *API) settle(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.start(r, "settle")
	defer span.End()

	actor, err := actorFrom(r)
	if err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	result, err := execute[creditcommand.SettleMessage, core.SettleResult](ctx, a.commands.Settle, creditcommand.SettleMessage{
		OrderID: chi.URLParam(r, "orderID"),
		Actor:   actor,
	})
	a.finish(w, span, http.StatusOK, toOrderView(result.Order), err)
}

func (a *API) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.start(r, "cancel_order")
	defer span.End()

	actor, err := actorFrom(r)
	if err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	var body cancelBody
	if r.ContentLength != 0 {
		if err := decodeBody(r, a.maxBodyBytes, &body); err != nil {
			a.finish(w, span, 0, nil, err)
			return
		}
	}
	order, err := execute[creditcommand.CancelOrderMessage, core.PurchaseOrder](ctx, a.commands.CancelOrder, creditcommand.CancelOrderMessage{
		OrderID: chi.URLParam(r, "orderID"),
		Reason:  body.Reason,
		Actor:   actor,
	})
	a.finish(w, span, http.StatusOK, toOrderView(order), err)
}

func (a *API) sweep(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.start(r, "sweep")
	defer span.End()

	actor, err := actorFrom(r)
	if err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	if !actor.IsAdmin() {
		a.finish(w, span, 0, nil, forbidden("only admins may trigger a sweep"))
		return
	}
	report, err := execute[creditcommand.SweepMessage, core.SweepReport](ctx, a.commands.Sweep, creditcommand.SweepMessage{})
	a.finish(w, span, http.StatusOK, sweepView(report), err)
}

func (a *API) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.start(r, "payment_webhook")
	defer span.End()

	body, err := readBody(r, a.maxBodyBytes)
	if err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	headers := make(map[string]string, len(r.Header))
	for key := range r.Header {
		headers[key] = r.Header.Get(key)
	}
	result, err := a.webhook.Process(ctx, webhooks.Request{Headers: headers, Body: body})
	if err != nil {
		a.finish(w, span, 0, nil, err)
		return
	}
	response := map[string]any{
		"delivery_id": result.DeliveryID,
		"replayed":    result.Replayed,
		"ignored":     result.Ignored,
		"duplicate":   result.Payment.Duplicate,
	}
	if result.Payment.Order.ID != "" {
		response["order"] = toOrderView(result.Payment.Order)
	}
	a.finish(w, span, result.StatusCode, response, nil)
}

// purchase decodes a hold or checkout body and resolves the buyer: buyers act
// for themselves, admins name the buyer, brokers cannot buy.
func (a *API) purchase(r *http.Request) (purchaseBody, error) {
	actor, err := actorFrom(r)
	if err != nil {
		return purchaseBody{}, err
	}
	var body purchaseBody
	if err := decodeBody(r, a.maxBodyBytes, &body); err != nil {
		return purchaseBody{}, err
	}
	body.BuyerID = strings.TrimSpace(body.BuyerID)
	switch actor.Role {
	case core.ActorRoleBuyer:
		if body.BuyerID != "" && body.BuyerID != actor.ID {
			return purchaseBody{}, forbidden("buyers may only purchase for themselves")
		}
		body.BuyerID = actor.ID
	case core.ActorRoleAdmin:
		if body.BuyerID == "" {
			return purchaseBody{}, requestError("buyer_id", "buyer_id is required when an admin purchases")
		}
	default:
		return purchaseBody{}, forbidden("only buyers and admins may purchase credits")
	}
	return body, nil
}

func lotStatusMessage(r *http.Request) (creditcommand.LotStatusMessage, error) {
	actor, err := actorFrom(r)
	if err != nil {
		return creditcommand.LotStatusMessage{}, err
	}
	return creditcommand.LotStatusMessage{LotID: chi.URLParam(r, "lotID"), Actor: actor}, nil
}

func paging(r *http.Request) (int, int, error) {
	params := r.URL.Query()
	limit, err := intParam(params.Get("limit"), "limit")
	if err != nil {
		return 0, 0, err
	}
	offset, err := intParam(params.Get("offset"), "offset")
	if err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func intParam(raw string, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, requestError(name, name+" must be an integer")
	}
	return value, nil
}

func forbidden(message string) error {
	return goerrors.New("httptransport: "+message, goerrors.CategoryAuthz).
		WithCode(http.StatusForbidden).
		WithTextCode(core.ErrorNotAuthorized)
}
