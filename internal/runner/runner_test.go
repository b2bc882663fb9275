package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"carbontrace/internal/archive"
	"carbontrace/internal/cache"
	"carbontrace/internal/normalize"
	"carbontrace/internal/xbrl"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// goodInstance carries exactly 3 vocabulary-matching facts and one that
// does not match.
const goodInstance = `<?xml version="1.0" encoding="UTF-8"?>
<xbrli:xbrl xmlns:xbrli="http://www.xbrl.org/2003/instance"
            xmlns:ifrs="http://xbrl.ifrs.org/taxonomy/2023-03-23/ifrs-full"
            xmlns:iso4217="http://www.xbrl.org/2003/iso4217">
  <xbrli:context id="FY">
    <xbrli:entity>
      <xbrli:identifier scheme="http://standards.iso.org/iso/17442">LEI00000000000000TEST</xbrli:identifier>
    </xbrli:entity>
    <xbrli:period>
      <xbrli:startDate>2023-01-01</xbrli:startDate>
      <xbrli:endDate>2023-12-31</xbrli:endDate>
    </xbrli:period>
  </xbrli:context>
  <xbrli:unit id="EUR">
    <xbrli:measure>iso4217:EUR</xbrli:measure>
  </xbrli:unit>
  <ifrs:Revenue contextRef="FY" unitRef="EUR" decimals="-3">5000000</ifrs:Revenue>
  <ifrs:OperatingProfitLoss contextRef="FY" unitRef="EUR" decimals="-3">800000</ifrs:OperatingProfitLoss>
  <ifrs:GreenhouseGasScope1Emissions contextRef="FY" decimals="0">1234</ifrs:GreenhouseGasScope1Emissions>
  <ifrs:NumberOfEmployees contextRef="FY" decimals="0">52</ifrs:NumberOfEmployees>
</xbrli:xbrl>
`

func newRunner(t *testing.T, provider FactProvider) *Runner {
	t.Helper()
	store, err := cache.New(t.TempDir(), 5*time.Second, "carbontrace-test/1.0", nil)
	require.NoError(t, err)
	if provider == nil {
		provider = xbrl.NewLoader(nil)
	}
	norm := normalize.New(normalize.DefaultVocabulary(), nil)
	return New(store, archive.NewResolver(nil), provider, norm, 30*time.Second, nil)
}

func closeIdleOnCleanup(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		if tr, ok := http.DefaultTransport.(*http.Transport); ok {
			tr.CloseIdleConnections()
		}
	})
}

func TestRunner_EndToEnd(t *testing.T) {
	closeIdleOnCleanup(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "filing.xbrl") {
			fmt.Fprint(w, goodInstance)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	r := newRunner(t, nil)
	records, downloads := r.Run(context.Background(), []string{
		srv.URL + "/2023/filing.xbrl",
		srv.URL + "/2023/missing.zip",
	})

	// 3 normalized rows for the good source, 1 error row for the bad one.
	require.Len(t, records, 4)
	require.Len(t, downloads, 1)
	assert.Equal(t, "filing.xbrl", downloads[0].SavedAs)

	var errorRows, factRows int
	for _, rec := range records {
		if rec.IsError() {
			errorRows++
			assert.Equal(t, srv.URL+"/2023/missing.zip", rec.SourceDoc)
			assert.Contains(t, rec.Value, "404")
		} else {
			factRows++
		}
	}
	assert.Equal(t, 3, factRows)
	assert.Equal(t, 1, errorRows)
}

func TestRunner_FaultIsolationOrderIndependent(t *testing.T) {
	closeIdleOnCleanup(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".xbrl") {
			fmt.Fprint(w, goodInstance)
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	good := srv.URL + "/good.xbrl"
	bad := srv.URL + "/bad.zip"

	for name, order := range map[string][]string{
		"bad first":  {bad, good},
		"good first": {good, bad},
	} {
		t.Run(name, func(t *testing.T) {
			records, _ := newRunner(t, nil).Run(context.Background(), order)
			require.Len(t, records, 4)
			var errs int
			for _, rec := range records {
				if rec.IsError() {
					errs++
				}
			}
			assert.Equal(t, 1, errs)
		})
	}
}

// failingProvider simulates the external parser raising on load.
type failingProvider struct{ err error }

func (p failingProvider) Load(ctx context.Context, path string) (*xbrl.Report, error) {
	return nil, p.err
}

func TestRunner_LoadFailureKeepsDownloadLog(t *testing.T) {
	closeIdleOnCleanup(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, goodInstance)
	}))
	defer srv.Close()

	r := newRunner(t, failingProvider{err: errors.New("unresolvable taxonomy")})
	records, downloads := r.Run(context.Background(), []string{srv.URL + "/filing.xbrl"})

	// Fetch and resolve succeeded, so the download log keeps its entry
	// even though normalization never happened.
	require.Len(t, downloads, 1)
	require.Len(t, records, 1)
	assert.True(t, records[0].IsError())
	assert.Contains(t, records[0].Value, "unresolvable taxonomy")
}

func TestParseSources(t *testing.T) {
	input := `
# ESEF demo filings
https://example.org/a.zip

  https://example.org/b.xhtml
# trailing comment
`
	got, err := ParseSources(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.org/a.zip",
		"https://example.org/b.xhtml",
	}, got)
}

func TestParseSources_Empty(t *testing.T) {
	got, err := ParseSources(strings.NewReader("# only comments\n\n"))
	require.NoError(t, err)
	assert.Empty(t, got)
}
