package observability

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"
	MOrderLifecycleEvents    MetricKey = "order_lifecycle_events_total"
	MStockReservations       MetricKey = "stock_reservations_total"
	MReaperExpiredOrders     MetricKey = "reaper_expired_orders_total"
	MSignatureFailures       MetricKey = "payment_signature_failures_total"
)
