package analysis

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alvmarrod/web-surveyor/internal/model"
	"github.com/alvmarrod/web-surveyor/internal/page"
	"github.com/alvmarrod/web-surveyor/internal/techno"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html lang="cs" amp>
<head>
	<meta charset="utf-8">
	<meta name="Description" content="Rodinné pekařství v srdci Brna">
	<meta name="viewport" content="width=device-width">
	<meta name="generator" content="WordPress 6.4.2">
	<title>Pekárna</title>
	<script type="application/ld+json">{"@context":"https://schema.org","@type":"Bakery","name":"Pekárna"}</script>
	<script src="/wp-includes/js/jquery/jquery.min.js?ver=3.7.1"></script>
</head>
<body>
	<h1>Pekárna</h1>
	<h1>Chléb</h1>
	<h2>Nabídka</h2>
	<a href="/kontakt" rel="nofollow">Kontakt</a>
	<a href="https://partner.cz/">Partner</a>
	<img src="/chleb.jpg">
	<img src="/rohlik.jpg" alt="rohlík">
	<div itemscope itemtype="https://schema.org/Product">
		<span itemprop="name">Kváskový chléb</span>
		<a itemprop="url" href="/chleb">detail</a>
		<div itemprop="offers" itemscope itemtype="https://schema.org/Offer">
			<meta itemprop="price" content="89">
			<span itemprop="priceCurrency">CZK</span>
		</div>
	</div>
	<iframe src="https://maps.example.com/"></iframe>
</body>
</html>`

func newDocument(t *testing.T, body string) *page.Document {
	t.Helper()
	doc, err := page.NewDocument("https://www.pekarna.cz/", http.StatusOK, http.Header{
		"Server": {"nginx/1.25.3"},
	}, []byte(body), []*http.Cookie{{Name: "PHPSESSID", Value: "x"}})
	require.NoError(t, err)
	return doc
}

func constant(name string, value any, err error) Func {
	return Func{AnalyzerName: name, Fn: func(context.Context, page.Page) (any, error) {
		return value, err
	}}
}

func TestNewPipelineRejectsDuplicates(t *testing.T) {
	t.Parallel()

	_, err := NewPipeline(time.Second, constant("a", 1, nil), constant("a", 2, nil))
	assert.Error(t, err)

	_, err = NewPipeline(time.Second, constant("", 1, nil))
	assert.Error(t, err)

	p, err := NewPipeline(time.Second, constant("a", 1, nil), constant("b", 2, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, p.Names())
}

func TestPipelineIsolatesFailures(t *testing.T) {
	t.Parallel()

	never := make(chan struct{})
	t.Cleanup(func() { close(never) })

	hanging := Func{AnalyzerName: "hanging", Fn: func(context.Context, page.Page) (any, error) {
		<-never
		return nil, nil
	}}

	p, err := NewPipeline(200*time.Millisecond,
		constant("ok", "value", nil),
		constant("failing", nil, errors.New("boom")),
		hanging,
	)
	require.NoError(t, err)

	start := time.Now()
	results := p.Run(context.Background(), newDocument(t, samplePage))
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, results, 3)
	assert.False(t, results["ok"].Failed)
	assert.Equal(t, "value", results["ok"].Value)
	assert.True(t, results["failing"].Failed)
	assert.Equal(t, "boom", results["failing"].Error)
	assert.True(t, results["hanging"].Failed)
	assert.Contains(t, results["hanging"].Error, ErrAnalysisTimeout.Error())
}

func TestPipelineOneFailureAmongThree(t *testing.T) {
	t.Parallel()

	never := make(chan struct{})
	t.Cleanup(func() { close(never) })

	p, err := NewPipeline(300*time.Millisecond,
		constant("first", 1, nil),
		Func{AnalyzerName: "stuck", Fn: func(context.Context, page.Page) (any, error) {
			<-never
			return nil, errors.New("never reached")
		}},
		constant("third", 3, nil),
	)
	require.NoError(t, err)

	start := time.Now()
	results := p.Run(context.Background(), newDocument(t, samplePage))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)

	require.Len(t, results, 3)
	failed := 0
	for _, r := range results {
		if r.Failed {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, model.Succeeded(1), results["first"])
	assert.Equal(t, model.Succeeded(3), results["third"])
}

func TestPipelineRecoversPanics(t *testing.T) {
	t.Parallel()

	p, err := NewPipeline(time.Second,
		Func{AnalyzerName: "panics", Fn: func(context.Context, page.Page) (any, error) {
			panic("unexpected nil")
		}},
		constant("fine", true, nil),
	)
	require.NoError(t, err)

	results := p.Run(context.Background(), newDocument(t, samplePage))
	require.Len(t, results, 2)
	assert.True(t, results["panics"].Failed)
	assert.Contains(t, results["panics"].Error, "unexpected nil")
	assert.False(t, results["fine"].Failed)
}

func TestPipelineCancelled(t *testing.T) {
	t.Parallel()

	never := make(chan struct{})
	t.Cleanup(func() { close(never) })

	p, err := NewPipeline(0, Func{AnalyzerName: "stuck", Fn: func(context.Context, page.Page) (any, error) {
		<-never
		return nil, nil
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := p.Run(ctx, newDocument(t, samplePage))
	require.Len(t, results, 1)
	assert.True(t, results["stuck"].Failed)
	assert.Contains(t, results["stuck"].Error, "cancelled")
}

func TestSEOAnalyzer(t *testing.T) {
	t.Parallel()

	value, err := NewSEOAnalyzer(DefaultSEOThresholds()).Analyze(context.Background(), newDocument(t, samplePage))
	require.NoError(t, err)
	r, ok := value.(*SEOReport)
	require.True(t, ok)

	assert.True(t, r.IsCharacterEncode)
	assert.True(t, r.IsDoctype)
	assert.True(t, r.IsMetaDescription)
	assert.Equal(t, "Rodinné pekařství v srdci Brna", r.MetaDescription)
	assert.Equal(t, 30, r.MetaDescriptionLength)
	assert.False(t, r.IsMetaDescriptionLong)

	assert.Equal(t, "Pekárna", r.Title)
	assert.Equal(t, 7, r.TitleLength)
	assert.True(t, r.IsTitleShort)
	assert.False(t, r.IsTitleLong)

	assert.Equal(t, 2, r.H1Count)
	assert.True(t, r.IsH1Multiple)
	assert.Equal(t, 1, r.H2Count)

	assert.Equal(t, 3, r.LinksCount)
	assert.Equal(t, []string{"https://www.pekarna.cz/kontakt"}, r.InternalNoFollowLinks)
	assert.Equal(t, []string{"/chleb.jpg"}, r.NotOptimizedImgs)

	assert.True(t, r.IsViewport)
	assert.True(t, r.IsAmp)
	assert.True(t, r.IsIframe)
	assert.Greater(t, r.WordsCount, 5)
	assert.False(t, r.IsContentTooLong)
}

func TestSEOAnalyzerBarePage(t *testing.T) {
	t.Parallel()

	thresholds := DefaultSEOThresholds()
	thresholds.MaxWordsCount = 3
	value, err := NewSEOAnalyzer(thresholds).Analyze(context.Background(),
		newDocument(t, `<html><body><p>one two three four</p></body></html>`))
	require.NoError(t, err)
	r := value.(*SEOReport)

	assert.False(t, r.IsDoctype)
	assert.False(t, r.IsTitle)
	assert.False(t, r.IsMetaDescription)
	assert.False(t, r.IsH1)
	assert.False(t, r.IsAmp)
	assert.Equal(t, 4, r.WordsCount)
	assert.True(t, r.IsContentTooLong)
	assert.Empty(t, r.InternalNoFollowLinks)
}

func TestJSONLDAnalyzer(t *testing.T) {
	t.Parallel()

	value, err := JSONLDAnalyzer{}.Analyze(context.Background(), newDocument(t, samplePage))
	require.NoError(t, err)
	r := value.(*JSONLDResult)
	assert.True(t, r.IsJSONLD)
	assert.Equal(t, "Bakery", r.JSONLDData.(map[string]any)["@type"])

	value, err = JSONLDAnalyzer{}.Analyze(context.Background(), newDocument(t, `<html></html>`))
	require.NoError(t, err)
	assert.False(t, value.(*JSONLDResult).IsJSONLD)

	_, err = JSONLDAnalyzer{}.Analyze(context.Background(),
		newDocument(t, `<script type="application/ld+json">{broken</script>`))
	assert.Error(t, err)
}

func TestMicrodataAnalyzer(t *testing.T) {
	t.Parallel()

	value, err := MicrodataAnalyzer{}.Analyze(context.Background(), newDocument(t, samplePage))
	require.NoError(t, err)
	r := value.(*MicrodataResult)
	require.True(t, r.IsMicrodata)
	require.Len(t, r.Microdata, 1)

	product := r.Microdata[0]
	assert.Equal(t, []string{"https://schema.org/Product"}, product.Type)
	assert.Equal(t, []any{"Kváskový chléb"}, product.Properties["name"])
	assert.Equal(t, []any{"https://www.pekarna.cz/chleb"}, product.Properties["url"])
	assert.NotContains(t, product.Properties, "price", "nested scopes own their properties")

	require.Len(t, product.Properties["offers"], 1)
	offer, ok := product.Properties["offers"][0].(*MicrodataItem)
	require.True(t, ok)
	assert.Equal(t, []any{"89"}, offer.Properties["price"])
	assert.Equal(t, []any{"CZK"}, offer.Properties["priceCurrency"])
}

// scriptedPage answers probes from a fixed table keyed by expression
type scriptedPage struct {
	*page.Document
	values map[string]any
}

func (p *scriptedPage) Evaluate(_ context.Context, expression string, out any) error {
	v, ok := p.values[expression]
	if !ok {
		v = nil
	}
	*out.(*any) = v
	return nil
}

func TestTechnologyAnalyzer(t *testing.T) {
	t.Parallel()

	cat, err := techno.LoadDefault()
	require.NoError(t, err)
	engine, err := techno.NewEngine(cat, techno.Scope{})
	require.NoError(t, err)
	analyzer := NewTechnologyAnalyzer(engine)

	value, err := analyzer.Analyze(context.Background(), newDocument(t, samplePage))
	require.NoError(t, err)
	names := technologyNames(value.([]model.Technology))
	assert.Contains(t, names, "WordPress")
	assert.Contains(t, names, "Nginx")
	assert.Contains(t, names, "jQuery")
	assert.Contains(t, names, "PHP")
	assert.NotContains(t, names, "Nette Framework")

	values := make(map[string]any)
	for chain, v := range map[string]any{"Nette": true, "Nette.version": "3.2.0"} {
		expr, err := techno.ProbeExpression(chain)
		require.NoError(t, err)
		values[expr] = v
	}
	scripted := &scriptedPage{Document: newDocument(t, `<html><body>plain</body></html>`), values: values}

	value, err = analyzer.Analyze(context.Background(), scripted)
	require.NoError(t, err)
	techs := value.([]model.Technology)
	var nette *model.Technology
	for i := range techs {
		if techs[i].Name == "Nette Framework" {
			nette = &techs[i]
		}
	}
	require.NotNil(t, nette)
	assert.Equal(t, "3.2.0", nette.Version)
}

func technologyNames(techs []model.Technology) string {
	names := make([]string, len(techs))
	for i, tech := range techs {
		names[i] = tech.Name
	}
	return strings.Join(names, ",")
}
