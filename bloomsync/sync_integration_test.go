package bloomsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/radianceaesthetics/ops_backend/config"
	"bitbucket.org/radianceaesthetics/ops_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func TestIncrementalSyncIdempotentAndDerivedPasses(t *testing.T) {
	fake := setupIntegration(t)
	ctx := context.Background()

	recent := time.Now().AddDate(0, 0, -10).UTC().Format(time.RFC3339)
	recent2 := time.Now().AddDate(0, 0, -5).UTC().Format(time.RFC3339)

	fake.setAppointments("loc-carmel", "", fakePage{
		nodes: []map[string]any{
			apptNode("apt-1", "cl-ava", "Ava", "Hart", "(317) 555-0140", "COMPLETED", recent,
				svcNode("svc-1", "Lip Filler", "Tox + Fillers", "stf-1", "Jess", 650, 45)),
			apptNode("apt-2", "cl-ben", "Ben", "Ito", "5551", "COMPLETED", recent2,
				svcNode("svc-2", "Botox 50 Units", "Injectables", "stf-1", "Jess", 550, 30)),
		},
	})
	fake.setMemberships(membershipNode("mem-1", "Radiance Gold", "ACTIVE", "cl-ava", "loc-carmel"))
	fake.setCredit("cl-ava", "150.5")

	first, err := RunIncrementalSync(ctx, models.SyncTriggeredManual)
	if err != nil {
		t.Fatalf("RunIncrementalSync(first): %v", err)
	}
	if first.Skipped {
		t.Fatalf("manual trigger must not be schedule-gated")
	}
	if first.RecordsProcessed != 2 || first.RecordsCreated != 2 {
		t.Fatalf("first run: processed=%d created=%d, want 2/2", first.RecordsProcessed, first.RecordsCreated)
	}
	if got := first.Passes["memberships"]; got.Failed || got.Count != 1 {
		t.Fatalf("memberships pass: %+v", got)
	}

	db := config.GetDB()
	assertCount(t, db, &models.Client{}, 2)
	assertCount(t, db, &models.Appointment{}, 2)
	assertCount(t, db, &models.AppointmentService{}, 2)
	assertCount(t, db, &models.Membership{}, 1)
	assertCount(t, db, &models.Provider{}, 1)
	// Ben's number is not dialable, so only Ava is enrolled.
	assertCount(t, db, &models.Member{}, 1)
	var member models.Member
	if err := db.Take(&member).Error; err != nil {
		t.Fatalf("fetch member: %v", err)
	}
	if member.Phone != "+13175550140" {
		t.Fatalf("member phone = %q, want E.164 +13175550140", member.Phone)
	}

	var svc models.AppointmentService
	if err := db.Where("external_service_id = ?", "svc-1").Take(&svc).Error; err != nil {
		t.Fatalf("fetch svc-1: %v", err)
	}
	if svc.ServiceSlug == nil || *svc.ServiceSlug != "filler" {
		t.Fatalf("svc-1 slug = %v, want filler", svc.ServiceSlug)
	}
	if svc.ProviderId == nil {
		t.Fatalf("svc-1 provider not resolved")
	}
	var svc2 models.AppointmentService
	if err := db.Where("external_service_id = ?", "svc-2").Take(&svc2).Error; err != nil {
		t.Fatalf("fetch svc-2: %v", err)
	}
	if svc2.ServiceSlug == nil || *svc2.ServiceSlug != "tox" {
		t.Fatalf("svc-2 slug = %v, want tox", svc2.ServiceSlug)
	}

	var ava models.Client
	if err := db.Where("external_id = ?", "cl-ava").Take(&ava).Error; err != nil {
		t.Fatalf("fetch ava: %v", err)
	}
	if ava.Phone != "+13175550140" {
		t.Fatalf("ava phone = %q, want E.164 +13175550140", ava.Phone)
	}
	if ava.LifecycleStage != models.LifecycleStageMember {
		t.Fatalf("ava lifecycle = %q, want member", ava.LifecycleStage)
	}
	if !ava.AccountCredit.Equal(decimal.RequireFromString("150.5")) {
		t.Fatalf("ava account credit = %s, want 150.5", ava.AccountCredit)
	}
	if ava.AccountCreditUpdatedAt == nil {
		t.Fatalf("ava account credit timestamp not set")
	}
	var ben models.Client
	if err := db.Where("external_id = ?", "cl-ben").Take(&ben).Error; err != nil {
		t.Fatalf("fetch ben: %v", err)
	}
	if ben.LifecycleStage != models.LifecycleStageNew {
		t.Fatalf("ben lifecycle = %q, want new", ben.LifecycleStage)
	}

	// Re-running the exact same pages creates nothing and duplicates nothing.
	second, err := RunIncrementalSync(ctx, models.SyncTriggeredManual)
	if err != nil {
		t.Fatalf("RunIncrementalSync(second): %v", err)
	}
	if second.RecordsProcessed != 2 || second.RecordsCreated != 0 {
		t.Fatalf("second run: processed=%d created=%d, want 2/0", second.RecordsProcessed, second.RecordsCreated)
	}
	assertCount(t, db, &models.Client{}, 2)
	assertCount(t, db, &models.Appointment{}, 2)
	assertCount(t, db, &models.AppointmentService{}, 2)
	assertCount(t, db, &models.Member{}, 1)

	// Upstream reworked apt-1's line items; the local set is replaced, not merged.
	fake.setAppointments("loc-carmel", "", fakePage{
		nodes: []map[string]any{
			apptNode("apt-1", "cl-ava", "Ava", "Hart", "+13175550140", "COMPLETED", recent,
				svcNode("svc-9", "Chemical Peel", "Skin", "stf-1", "Jess", 200, 30),
				svcNode("svc-10", "HydraFacial Deluxe", "Skin", "stf-1", "Jess", 250, 50)),
			apptNode("apt-2", "cl-ben", "Ben", "Ito", "5551", "COMPLETED", recent2,
				svcNode("svc-2", "Botox 50 Units", "Injectables", "stf-1", "Jess", 550, 30)),
		},
	})
	if _, err := RunIncrementalSync(ctx, models.SyncTriggeredManual); err != nil {
		t.Fatalf("RunIncrementalSync(third): %v", err)
	}
	assertCount(t, db, &models.AppointmentService{}, 3)
	var apt1 models.Appointment
	if err := db.Where("external_id = ?", "apt-1").Take(&apt1).Error; err != nil {
		t.Fatalf("fetch apt-1: %v", err)
	}
	var apt1Services int64
	if err := db.Model(&models.AppointmentService{}).Where("appointment_id = ?", apt1.ID).Count(&apt1Services).Error; err != nil {
		t.Fatalf("count apt-1 services: %v", err)
	}
	if apt1Services != 2 {
		t.Fatalf("apt-1 services = %d, want 2", apt1Services)
	}
	var stale int64
	if err := db.Model(&models.AppointmentService{}).Where("external_service_id = ?", "svc-1").Count(&stale).Error; err != nil {
		t.Fatalf("count stale services: %v", err)
	}
	if stale != 0 {
		t.Fatalf("replaced line item svc-1 still present")
	}

	// A failing membership pass is recorded, not escalated: the run still
	// completes and the primary counters stand.
	fake.setMembershipsFail(true)
	fourth, err := RunIncrementalSync(ctx, models.SyncTriggeredManual)
	if err != nil {
		t.Fatalf("RunIncrementalSync(fourth): %v", err)
	}
	if got := fourth.Passes["memberships"]; !got.Failed || got.Reason == "" {
		t.Fatalf("memberships pass should fail with a reason: %+v", got)
	}
	if fourth.RecordsProcessed != 2 {
		t.Fatalf("fourth run processed = %d, want 2", fourth.RecordsProcessed)
	}
	syncLog, err := models.GetSyncLog(ctx, fourth.SyncLogId)
	if err != nil {
		t.Fatalf("GetSyncLog: %v", err)
	}
	if syncLog.Status != models.SyncStatusCompleted {
		t.Fatalf("sync log status = %q, want completed", syncLog.Status)
	}
}

func TestBackfillCheckpointsAndResume(t *testing.T) {
	fake := setupIntegration(t)
	ctx := context.Background()

	fake.setAppointments("loc-carmel", "", fakePage{
		nodes: []map[string]any{
			apptNode("apt-b1", "cl-zoe", "Zoe", "Lane", "+13175550199", "COMPLETED", "2026-05-01T15:00:00Z",
				svcNode("svc-b1", "Lip Filler", "Tox + Fillers", "stf-2", "Morgan", 650, 45)),
			// No client attached upstream; the row keeps a NULL client reference.
			apptNode("apt-b2", "", "", "", "", "CANCELLED", "2026-04-20T15:00:00Z"),
		},
		hasNext:   true,
		endCursor: "cmel-1",
	})
	fake.setAppointments("loc-carmel", "cmel-1", fakePage{
		nodes: []map[string]any{
			apptNode("apt-b3", "cl-zoe", "Zoe", "Lane", "+13175550199", "COMPLETED", "2026-03-15T15:00:00Z"),
		},
	})
	fake.setAppointments("loc-westfield", "", fakePage{
		nodes: []map[string]any{
			apptNode("apt-b4", "cl-kai", "Kai", "Ross", "", "COMPLETED", "2026-02-10T15:00:00Z"),
		},
	})
	// loc-fishers serves an empty page.

	first, err := RunBackfillPage(ctx, BackfillRequest{})
	if err != nil {
		t.Fatalf("RunBackfillPage(first): %v", err)
	}
	if first.Processed != 2 || first.Created != 2 {
		t.Fatalf("first page: processed=%d created=%d, want 2/2", first.Processed, first.Created)
	}
	if first.Cursor == nil || *first.Cursor != "cmel-1" || first.LocationIndex != 0 || first.Done {
		t.Fatalf("first page checkpoint: %+v", first)
	}
	if first.OldestSeen == nil || !strings.HasPrefix(*first.OldestSeen, "2026-04-20") {
		t.Fatalf("oldestSeen = %v", first.OldestSeen)
	}

	// Upstream sheds load with an HTML page: the log fails but the last
	// committed checkpoint survives on the row.
	fake.failNextWithHTML()
	_, err = RunBackfillPage(ctx, BackfillRequest{
		SyncLogId:     &first.SyncLogId,
		Cursor:        first.Cursor,
		LocationIndex: first.LocationIndex,
	})
	if !errors.Is(err, ErrNonJSONResponse) {
		t.Fatalf("expected ErrNonJSONResponse, got: %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "resume from the last checkpoint") {
		t.Fatalf("error should point the operator at the resume path: %v", err)
	}
	failedLog, err := models.GetSyncLog(ctx, first.SyncLogId)
	if err != nil {
		t.Fatalf("GetSyncLog(failed): %v", err)
	}
	if failedLog.Status != models.SyncStatusFailed {
		t.Fatalf("log status = %q, want failed", failedLog.Status)
	}
	if failedLog.Cursor == nil || *failedLog.Cursor != "cmel-1" {
		t.Fatalf("failed log lost its checkpoint: %v", failedLog.Cursor)
	}
	failedMeta := models.DecodeSyncMetadata(failedLog.MetadataJSON)
	if failedMeta.LocationIndex != 0 {
		t.Fatalf("failed log location index = %d, want 0", failedMeta.LocationIndex)
	}

	// A finalized log never accepts another page.
	_, err = RunBackfillPage(ctx, BackfillRequest{
		SyncLogId:     &first.SyncLogId,
		Cursor:        first.Cursor,
		LocationIndex: first.LocationIndex,
	})
	if !errors.Is(err, ErrLogFinalized) {
		t.Fatalf("expected ErrLogFinalized, got: %v", err)
	}

	// Resume on a fresh log carrying the old checkpoint.
	resume, err := RunBackfillPage(ctx, BackfillRequest{
		Cursor:        failedLog.Cursor,
		LocationIndex: failedMeta.LocationIndex,
	})
	if err != nil {
		t.Fatalf("RunBackfillPage(resume): %v", err)
	}
	if resume.Processed != 1 || resume.LocationIndex != 1 || resume.Cursor != nil || resume.Done {
		t.Fatalf("resume page: %+v", resume)
	}

	next, err := RunBackfillPage(ctx, BackfillRequest{
		SyncLogId:     &resume.SyncLogId,
		LocationIndex: resume.LocationIndex,
	})
	if err != nil {
		t.Fatalf("RunBackfillPage(westfield): %v", err)
	}
	if next.Processed != 1 || next.LocationIndex != 2 || next.Done {
		t.Fatalf("westfield page: %+v", next)
	}

	last, err := RunBackfillPage(ctx, BackfillRequest{
		SyncLogId:     &next.SyncLogId,
		LocationIndex: next.LocationIndex,
	})
	if err != nil {
		t.Fatalf("RunBackfillPage(fishers): %v", err)
	}
	if last.Processed != 0 || !last.Done || last.LocationIndex != 3 {
		t.Fatalf("final page: %+v", last)
	}
	doneLog, err := models.GetSyncLog(ctx, resume.SyncLogId)
	if err != nil {
		t.Fatalf("GetSyncLog(done): %v", err)
	}
	if doneLog.Status != models.SyncStatusCompleted {
		t.Fatalf("resume log status = %q, want completed", doneLog.Status)
	}
	if doneLog.RecordsProcessed != 2 {
		t.Fatalf("resume log processed = %d, want 2", doneLog.RecordsProcessed)
	}

	db := config.GetDB()
	assertCount(t, db, &models.Appointment{}, 4)
	var orphan models.Appointment
	if err := db.Where("external_id = ?", "apt-b2").Take(&orphan).Error; err != nil {
		t.Fatalf("fetch apt-b2: %v", err)
	}
	if orphan.ClientId != nil {
		t.Fatalf("apt-b2 should keep a NULL client reference")
	}

	// Re-walking the same pages is idempotent.
	again, err := RunBackfillPage(ctx, BackfillRequest{})
	if err != nil {
		t.Fatalf("RunBackfillPage(again): %v", err)
	}
	if again.Processed != 2 || again.Created != 0 {
		t.Fatalf("re-walk: processed=%d created=%d, want 2/0", again.Processed, again.Created)
	}
	assertCount(t, db, &models.Appointment{}, 4)

	// Crossing stopBeforeDate advances to the next location even though the
	// upstream page says more pages exist.
	stopped, err := RunBackfillPage(ctx, BackfillRequest{StopBeforeDate: "2026-04-25"})
	if err != nil {
		t.Fatalf("RunBackfillPage(stop): %v", err)
	}
	if stopped.LocationIndex != 1 || stopped.Cursor != nil || stopped.Done {
		t.Fatalf("stop threshold page: %+v", stopped)
	}

	// A follow-up page request that omits stopBeforeDate keeps the threshold
	// stored on the log; it must not silently widen the run.
	fake.setAppointments("loc-carmel", "cmel-1", fakePage{
		nodes: []map[string]any{
			apptNode("apt-b3", "cl-zoe", "Zoe", "Lane", "+13175550199", "COMPLETED", "2026-03-15T15:00:00Z"),
		},
		hasNext:   true,
		endCursor: "cmel-2",
	})
	withStop, err := RunBackfillPage(ctx, BackfillRequest{StopBeforeDate: "2026-04-01"})
	if err != nil {
		t.Fatalf("RunBackfillPage(withStop): %v", err)
	}
	if withStop.LocationIndex != 0 || withStop.Cursor == nil {
		t.Fatalf("withStop page: %+v", withStop)
	}
	carried, err := RunBackfillPage(ctx, BackfillRequest{
		SyncLogId:     &withStop.SyncLogId,
		Cursor:        withStop.Cursor,
		LocationIndex: withStop.LocationIndex,
	})
	if err != nil {
		t.Fatalf("RunBackfillPage(carried): %v", err)
	}
	if carried.LocationIndex != 1 || carried.Cursor != nil {
		t.Fatalf("stored threshold was dropped: %+v", carried)
	}
	stopLog, err := models.GetSyncLog(ctx, withStop.SyncLogId)
	if err != nil {
		t.Fatalf("GetSyncLog(withStop): %v", err)
	}
	if models.DecodeSyncMetadata(stopLog.MetadataJSON).StopBeforeDate != "2026-04-01" {
		t.Fatalf("stop threshold missing from log metadata: %s", stopLog.MetadataJSON)
	}
}

func assertCount(t *testing.T, db *gorm.DB, model any, want int64) {
	t.Helper()
	var got int64
	if err := db.Model(model).Count(&got).Error; err != nil {
		t.Fatalf("count %T: %v", model, err)
	}
	if got != want {
		t.Fatalf("count %T = %d, want %d", model, got, want)
	}
}

func setupIntegration(t *testing.T) *fakeBloom {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	fake := newFakeBloom(t)

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "ops_test")
	t.Setenv("BLOOM_API_BASE_URL", fake.srv.URL)
	t.Setenv("BLOOM_API_KEY", "test-key")
	t.Setenv("BLOOM_RATE_LIMIT_PER_MIN", "60000")
	t.Setenv("BLOOM_LOCATION_ID_CARMEL", "loc-carmel")
	t.Setenv("BLOOM_LOCATION_ID_WESTFIELD", "loc-westfield")
	t.Setenv("BLOOM_LOCATION_ID_FISHERS", "loc-fishers")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	return fake
}

// fakeBloom is an in-process stand-in for the upstream query API. Pages are
// keyed by location id and the cursor they are served for; anything not
// registered resolves to an empty final page.
type fakeBloom struct {
	mu              sync.Mutex
	srv             *httptest.Server
	appointments    map[string]map[string]fakePage
	memberships     []map[string]any
	membershipsFail bool
	credits         map[string]string
	htmlNext        bool
}

type fakePage struct {
	nodes     []map[string]any
	hasNext   bool
	endCursor string
}

var creditAliasRe = regexp.MustCompile(`(c\d+): client\(id: "([^"]+)"\)`)

func newFakeBloom(t *testing.T) *fakeBloom {
	t.Helper()
	f := &fakeBloom{
		appointments: make(map[string]map[string]fakePage),
		credits:      make(map[string]string),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeBloom) setAppointments(locationId, after string, page fakePage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appointments[locationId] == nil {
		f.appointments[locationId] = make(map[string]fakePage)
	}
	f.appointments[locationId][after] = page
}

func (f *fakeBloom) setMemberships(nodes ...map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memberships = nodes
}

func (f *fakeBloom) setMembershipsFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.membershipsFail = fail
}

func (f *fakeBloom) setCredit(externalId, amount string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credits[externalId] = amount
}

func (f *fakeBloom) failNextWithHTML() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.htmlNext = true
}

func (f *fakeBloom) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.htmlNext {
		f.htmlNext = false
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("<html><body>Service Unavailable</body></html>"))
		return
	}

	var req struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	switch {
	case strings.Contains(req.Query, "appointments("):
		locationId, _ := req.Variables["locationId"].(string)
		after, _ := req.Variables["after"].(string)
		page := f.appointments[locationId][after]
		writeGraphQLData(w, map[string]any{"appointments": map[string]any{
			"edges":    wrapEdges(page.nodes),
			"pageInfo": map[string]any{"hasNextPage": page.hasNext, "endCursor": page.endCursor},
		}})
	case strings.Contains(req.Query, "memberships("):
		if f.membershipsFail {
			writeJSON(w, map[string]any{"errors": []map[string]any{{"message": "memberships unavailable"}}})
			return
		}
		writeGraphQLData(w, map[string]any{"memberships": map[string]any{
			"edges":    wrapEdges(f.memberships),
			"pageInfo": map[string]any{"hasNextPage": false, "endCursor": ""},
		}})
	case strings.Contains(req.Query, "ClientCredits"):
		aliased := make(map[string]any)
		for _, m := range creditAliasRe.FindAllStringSubmatch(req.Query, -1) {
			if amount, ok := f.credits[m[2]]; ok {
				aliased[m[1]] = map[string]any{"id": m[2], "accountCredit": json.RawMessage(amount)}
			} else {
				aliased[m[1]] = nil
			}
		}
		writeGraphQLData(w, aliased)
	default:
		writeGraphQLData(w, map[string]any{"business": map[string]any{"id": "biz-1", "name": "Radiance Aesthetics"}})
	}
}

func writeGraphQLData(w http.ResponseWriter, data map[string]any) {
	writeJSON(w, map[string]any{"data": data})
}

func writeJSON(w http.ResponseWriter, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func wrapEdges(nodes []map[string]any) []map[string]any {
	edges := make([]map[string]any, 0, len(nodes))
	for _, node := range nodes {
		edges = append(edges, map[string]any{"node": node})
	}
	return edges
}

func apptNode(id, clientId, firstName, lastName, phone, state, startAt string, services ...map[string]any) map[string]any {
	var client any
	if clientId != "" {
		client = map[string]any{
			"id":          clientId,
			"firstName":   firstName,
			"lastName":    lastName,
			"email":       strings.ToLower(firstName) + "@test.local",
			"mobilePhone": phone,
		}
	}
	if services == nil {
		services = []map[string]any{}
	}
	return map[string]any{
		"id":                  id,
		"state":               state,
		"startAt":             startAt,
		"endAt":               startAt,
		"cancelledAt":         nil,
		"client":              client,
		"appointmentServices": services,
	}
}

func svcNode(id, name, category, staffId, staffName string, price float64, duration int) map[string]any {
	return map[string]any{
		"id":       id,
		"name":     name,
		"category": map[string]any{"name": category},
		"staff":    map[string]any{"id": staffId, "name": staffName},
		"price":    price,
		"duration": duration,
	}
}

func membershipNode(id, name, status, clientId, locationId string) map[string]any {
	return map[string]any{
		"id":         id,
		"name":       name,
		"status":     status,
		"interval":   "MONTH",
		"unitPrice":  199,
		"termNumber": 12,
		"clientId":   clientId,
		"locationId": locationId,
		"vouchers":   []map[string]any{{"id": "vch-1", "quantity": 2}},
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("ops-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("ops-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=ops_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
