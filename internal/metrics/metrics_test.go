// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerExportsRegisteredMetrics(t *testing.T) {
	r := New()
	r.RoundsOpened.Inc()
	r.BidsReceived.Add(3)
	r.RecoveriesFired.WithLabelValues("re-allocate").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, "mrta_auction_rounds_opened_total 1"))
	require.True(t, strings.Contains(body, "mrta_auction_bids_received_total 3"))
	require.True(t, strings.Contains(body, `mrta_monitor_recoveries_fired_total{method="re-allocate"} 1`))
}
