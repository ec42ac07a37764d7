package tagging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	terrors "github.com/hrygo/tagcache/internal/errors"
	"github.com/hrygo/tagcache/plugin/ai"
	"github.com/hrygo/tagcache/plugin/fingerprint"
	"github.com/hrygo/tagcache/plugin/loader"
	"github.com/hrygo/tagcache/server/internal/observability"
	"github.com/hrygo/tagcache/store"
)

// memDriver keeps saved records in memory and counts saves.
type memDriver struct {
	mu      sync.Mutex
	saved   []*store.TagRecord
	saves   atomic.Int32
	saveErr error
}

func (d *memDriver) Load(context.Context) ([]*store.TagRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saved, nil
}

func (d *memDriver) Save(_ context.Context, records []*store.TagRecord) error {
	d.saves.Add(1)
	if d.saveErr != nil {
		return d.saveErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.saved = records
	return nil
}

func (d *memDriver) Close() error { return nil }

// mockLoader serves content from a map.
type mockLoader struct {
	contents map[string]*loader.Content
}

func newMockLoader() *mockLoader {
	return &mockLoader{contents: map[string]*loader.Content{}}
}

func (l *mockLoader) text(ref, text string) *mockLoader {
	l.contents[ref] = &loader.Content{Ref: ref, Name: ref, Kind: loader.KindText, Text: text}
	return l
}

func (l *mockLoader) image(ref string, data []byte) *mockLoader {
	l.contents[ref] = &loader.Content{Ref: ref, Name: ref, Kind: loader.KindImage, Data: data, MIME: "image/png"}
	return l
}

func (l *mockLoader) Load(_ context.Context, ref string) (*loader.Content, error) {
	c, ok := l.contents[ref]
	if !ok {
		return nil, terrors.NewLoadError(ref, errors.New("no such file"))
	}
	return c, nil
}

// mockOracle answers label requests from a function and counts calls.
type mockOracle struct {
	batchCount atomic.Int32
	callCount  atomic.Int32
	err        error
	tagFunc    func(text string) []string

	mu       sync.Mutex
	requests []ai.LabelRequest
}

func (o *mockOracle) LabelBatch(ctx context.Context, reqs []ai.LabelRequest) ([]*ai.LabelResponse, error) {
	o.batchCount.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, terrors.NewOracleError("canceled", err)
	}
	if o.err != nil {
		return nil, o.err
	}
	o.mu.Lock()
	o.requests = append(o.requests, reqs...)
	o.mu.Unlock()

	out := make([]*ai.LabelResponse, len(reqs))
	for i, req := range reqs {
		o.callCount.Add(1)
		if tags := o.tagFunc(req.IdentityText); tags != nil {
			out[i] = &ai.LabelResponse{Tags: tags}
		}
	}
	return out, nil
}

// mockDescriber returns a fixed description per call.
type mockDescriber struct {
	callCount atomic.Int32
	describe  func(req ai.DescribeRequest) *ai.DescribeResponse
}

func (d *mockDescriber) DescribeBatch(_ context.Context, reqs []ai.DescribeRequest) ([]*ai.DescribeResponse, error) {
	out := make([]*ai.DescribeResponse, len(reqs))
	for i, req := range reqs {
		d.callCount.Add(1)
		out[i] = d.describe(req)
	}
	return out, nil
}

var mlTags = []string{"文本", "技术", "机器学习", "模型", "优化"}

func genericTagger(text string) []string {
	return []string{"文本", "主题" + fmt.Sprint(len([]rune(text))%7)}
}

type fixture struct {
	driver *memDriver
	store  *store.Store
	loader *mockLoader
	oracle *mockOracle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	driver := &memDriver{}
	return &fixture{
		driver: driver,
		store:  store.New(driver, store.Config{ApproxThreshold: store.DefaultApproxThreshold}),
		loader: newMockLoader(),
		oracle: &mockOracle{tagFunc: genericTagger},
	}
}

func (f *fixture) runner(t *testing.T, opts ...Option) *Runner {
	t.Helper()
	r, err := NewRunner(f.store, f.loader, f.oracle, opts...)
	require.NoError(t, err)
	return r
}

func TestNewRunnerConfiguration(t *testing.T) {
	f := newFixture(t)

	_, err := NewRunner(nil, f.loader, f.oracle)
	assert.True(t, terrors.IsCode(err, terrors.ErrCodeConfigurationInvalid))
	_, err = NewRunner(f.store, nil, f.oracle)
	assert.True(t, terrors.IsCode(err, terrors.ErrCodeConfigurationInvalid))
	_, err = NewRunner(f.store, f.loader, nil)
	assert.True(t, terrors.IsCode(err, terrors.ErrCodeConfigurationInvalid))
}

func TestTagBatchNearDuplicateReusesTags(t *testing.T) {
	f := newFixture(t)
	f.loader.text("a.txt", "机器学习模型优化").text("b.txt", "机器学习模型优化。")
	f.oracle.tagFunc = func(text string) []string {
		if strings.Contains(text, "机器学习模型优化") {
			return mlTags
		}
		return nil
	}
	r := f.runner(t)
	ctx := context.Background()

	first, err := r.TagBatch(ctx, []string{"a.txt"})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, mlTags, first[0].Tags)
	assert.Equal(t, SourceOracle, first[0].Source)
	assert.Equal(t, int32(1), f.oracle.callCount.Load())

	second, err := r.TagBatch(ctx, []string{"b.txt"})
	require.NoError(t, err)
	assert.Equal(t, mlTags, second[0].Tags)
	assert.Equal(t, SourceApprox, second[0].Source)
	assert.NotEqual(t, first[0].ContentID, second[0].ContentID)
	assert.Equal(t, int32(1), f.oracle.callCount.Load(), "near-duplicate must not reach the oracle")

	// the copy is independent of its source
	rec, ok := f.store.GetByID(second[0].ContentID)
	require.True(t, ok)
	f.store.UpdateTags(rec, []string{"文本", "改动"})
	src, ok := f.store.GetByID(first[0].ContentID)
	require.True(t, ok)
	assert.Equal(t, mlTags, src.Tags)

	assert.Equal(t, int32(2), f.driver.saves.Load())
}

func TestTagBatchApproxDisabled(t *testing.T) {
	f := newFixture(t)
	f.loader.text("a.txt", "机器学习模型优化").text("b.txt", "机器学习模型优化。")
	r := f.runner(t, WithApprox(false))

	_, err := r.TagBatch(context.Background(), []string{"a.txt"})
	require.NoError(t, err)
	res, err := r.TagBatch(context.Background(), []string{"b.txt"})
	require.NoError(t, err)
	assert.Equal(t, SourceOracle, res[0].Source)
	assert.Equal(t, int32(2), f.oracle.callCount.Load())
}

func TestTagBatchPreservesOrder(t *testing.T) {
	f := newFixture(t)
	f.loader.text("A", "数据库索引优化的实践笔记").
		text("B", "网络协议握手过程分析").
		text("C", "周末烹饪红烧肉的技巧")
	r := f.runner(t)
	ctx := context.Background()

	_, err := r.TagBatch(ctx, []string{"B"})
	require.NoError(t, err)
	require.Equal(t, int32(1), f.oracle.callCount.Load())

	results, err := r.TagBatch(ctx, []string{"A", "B", "C"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{results[0].Ref, results[1].Ref, results[2].Ref})
	assert.Equal(t, []Source{SourceOracle, SourceExact, SourceOracle},
		[]Source{results[0].Source, results[1].Source, results[2].Source})
	assert.Equal(t, int32(3), f.oracle.callCount.Load())
	for _, res := range results {
		assert.Equal(t, fingerprint.ContentID(f.loader.contents[res.Ref].Text), res.ContentID)
	}
}

func TestTagBatchNullResponseForOneItem(t *testing.T) {
	f := newFixture(t)
	f.loader.text("1", "数据库事务隔离级别详解").text("2", "失败的那一篇").text("3", "分布式一致性算法入门")
	f.oracle.tagFunc = func(text string) []string {
		if strings.Contains(text, "失败") {
			return nil
		}
		return []string{"文本", "技术"}
	}
	r := f.runner(t)

	results, err := r.TagBatch(context.Background(), []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"文本", "技术"}, results[0].Tags)
	assert.Empty(t, results[1].Tags)
	assert.Equal(t, SourceUntagged, results[1].Source)
	assert.Equal(t, []string{"文本", "技术"}, results[2].Tags)

	rec, ok := f.store.GetByID(results[1].ContentID)
	require.True(t, ok)
	assert.Empty(t, rec.Tags)

	// a retry only asks for the missing item
	f.oracle.tagFunc = func(string) []string { return []string{"文本", "随笔"} }
	results, err = r.TagBatch(context.Background(), []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.Equal(t, int32(4), f.oracle.callCount.Load())
	assert.Equal(t, SourceOracle, results[1].Source)
	assert.Equal(t, SourceExact, results[0].Source)
}

func TestTagBatchWholeCallError(t *testing.T) {
	f := newFixture(t)
	f.loader.text("1", "一").text("2", "二")
	f.oracle.err = errors.New("upstream unreachable")
	r := f.runner(t)

	results, err := r.TagBatch(context.Background(), []string{"1", "2"})
	require.NoError(t, err)
	for _, res := range results {
		assert.Empty(t, res.Tags)
		assert.Equal(t, SourceUntagged, res.Source)
	}
	assert.Equal(t, int32(1), f.oracle.batchCount.Load())
	assert.Zero(t, f.driver.saves.Load(), "nothing changed, nothing flushed")
}

func TestTagBatchFlushesOnce(t *testing.T) {
	f := newFixture(t)
	refs := []string{}
	for i := range 6 {
		ref := fmt.Sprintf("doc%d", i)
		f.loader.text(ref, fmt.Sprintf("第%d份完全不同的文档内容，编号%d", i, i*7919))
		refs = append(refs, ref)
	}
	r := f.runner(t)

	_, err := r.TagBatch(context.Background(), refs)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.driver.saves.Load())
	assert.Equal(t, int32(1), f.oracle.batchCount.Load())

	// all hits: no oracle call and no flush
	results, err := r.TagBatch(context.Background(), refs)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.driver.saves.Load())
	assert.Equal(t, int32(1), f.oracle.batchCount.Load())
	for _, res := range results {
		assert.Equal(t, SourceExact, res.Source)
	}
}

func TestTagBatchDeduplicatesMissSet(t *testing.T) {
	f := newFixture(t)
	f.loader.text("x", "同样的内容").text("y", "同样的内容")
	r := f.runner(t)

	results, err := r.TagBatch(context.Background(), []string{"x", "y", "x"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.oracle.callCount.Load())
	require.Len(t, results, 3)
	for _, res := range results {
		assert.Equal(t, SourceOracle, res.Source)
		assert.Equal(t, results[0].Tags, res.Tags)
	}
}

func TestTagBatchFlushError(t *testing.T) {
	f := newFixture(t)
	f.driver.saveErr = errors.New("disk full")
	f.loader.text("1", "内容")
	r := f.runner(t)

	results, err := r.TagBatch(context.Background(), []string{"1"})
	require.Error(t, err)
	assert.True(t, terrors.IsCode(err, terrors.ErrCodePersistenceFailed))
	require.Len(t, results, 1)
	assert.NotEmpty(t, results[0].Tags)

	// memory still holds the tags
	rec, ok := f.store.GetByID(results[0].ContentID)
	require.True(t, ok)
	assert.Equal(t, results[0].Tags, rec.Tags)
}

func TestTagBatchLoadFailureSkipsItem(t *testing.T) {
	f := newFixture(t)
	f.loader.text("ok", "可以读取的内容")
	r := f.runner(t)

	results, err := r.TagBatch(context.Background(), []string{"missing", "ok"})
	require.NoError(t, err)
	assert.Equal(t, SourceSkipped, results[0].Source)
	assert.Empty(t, results[0].Tags)
	assert.Empty(t, results[0].ContentID)
	assert.Equal(t, SourceOracle, results[1].Source)
}

func TestTagBatchImages(t *testing.T) {
	f := newFixture(t)
	f.loader.image("cat.png", []byte("fake-png-bytes"))
	describer := &mockDescriber{describe: func(req ai.DescribeRequest) *ai.DescribeResponse {
		return &ai.DescribeResponse{Description: "一只橘猫趴在窗台上晒太阳"}
	}}
	var labeled []string
	f.oracle.tagFunc = func(text string) []string {
		labeled = append(labeled, text)
		return []string{"图像", "动物"}
	}
	r := f.runner(t, WithDescriber(describer))

	results, err := r.TagBatch(context.Background(), []string{"cat.png"})
	require.NoError(t, err)
	assert.Equal(t, []string{"图像", "动物"}, results[0].Tags)
	assert.Equal(t, []string{"一只橘猫趴在窗台上晒太阳"}, labeled)

	rec, ok := f.store.GetByID(results[0].ContentID)
	require.True(t, ok)
	assert.Equal(t, "一只橘猫趴在窗台上晒太阳", rec.Description())
	assert.Equal(t, fingerprint.ContentID("image image/png "+fingerprint.ContentIDBytes([]byte("fake-png-bytes"))), rec.ContentID)

	results, err = r.TagBatch(context.Background(), []string{"cat.png"})
	require.NoError(t, err)
	assert.Equal(t, SourceExact, results[0].Source)
	assert.Equal(t, int32(1), describer.callCount.Load())
	assert.Equal(t, int32(1), f.oracle.callCount.Load())
}

func TestTagBatchImageDescriptionReusedOnRetry(t *testing.T) {
	f := newFixture(t)
	f.loader.image("chart.png", []byte("chart"))
	describer := &mockDescriber{describe: func(ai.DescribeRequest) *ai.DescribeResponse {
		return &ai.DescribeResponse{Description: "柱状图"}
	}}
	f.oracle.err = errors.New("timeout")
	r := f.runner(t, WithDescriber(describer))

	results, err := r.TagBatch(context.Background(), []string{"chart.png"})
	require.NoError(t, err)
	assert.Equal(t, SourceUntagged, results[0].Source)
	assert.Equal(t, int32(1), f.driver.saves.Load(), "description is persisted")

	f.oracle.err = nil
	results, err = r.TagBatch(context.Background(), []string{"chart.png"})
	require.NoError(t, err)
	assert.Equal(t, SourceOracle, results[0].Source)
	assert.Equal(t, int32(1), describer.callCount.Load(), "description not regenerated")
}

func TestTagBatchImageWithoutDescriber(t *testing.T) {
	f := newFixture(t)
	f.loader.image("a.png", []byte("a"))
	r := f.runner(t)

	results, err := r.TagBatch(context.Background(), []string{"a.png"})
	require.NoError(t, err)
	assert.Equal(t, SourceUntagged, results[0].Source)
	assert.Zero(t, f.oracle.batchCount.Load())
}

func TestTagBatchCanceled(t *testing.T) {
	f := newFixture(t)
	f.loader.text("1", "一").text("2", "二")
	r := f.runner(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := r.TagBatch(ctx, []string{"1", "2"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, SourceUntagged, res.Source)
	}
	assert.Zero(t, f.oracle.callCount.Load())

	// retry after cancellation completes normally
	results, err = r.TagBatch(context.Background(), []string{"1", "2"})
	require.NoError(t, err)
	for _, res := range results {
		assert.Equal(t, SourceOracle, res.Source)
	}
}

func TestTagBatchConcurrentBatches(t *testing.T) {
	f := newFixture(t)
	f.loader.text("same", "并发请求相同的内容")
	r := f.runner(t)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := r.TagBatch(context.Background(), []string{"same"})
			assert.NoError(t, err)
			assert.NotEmpty(t, results[0].Tags)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), f.oracle.callCount.Load())
	assert.Equal(t, 1, f.store.Len())
}

func TestTagBatchMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := observability.NewMetrics(provider)
	require.NoError(t, err)

	f := newFixture(t)
	f.loader.text("1", "甲").text("2", "乙")
	r := f.runner(t, WithMetrics(metrics))

	_, err = r.TagBatch(context.Background(), []string{"1", "2", "missing"})
	require.NoError(t, err)
	_, err = r.TagBatch(context.Background(), []string{"1"})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := map[string]int64{}
	var histogramCount uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if m.Name != "tagcache.items" {
					continue
				}
				for _, dp := range data.DataPoints {
					v, _ := dp.Attributes.Value(attribute.Key("outcome"))
					counts[v.AsString()] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					histogramCount += dp.Count
				}
			}
		}
	}
	assert.Equal(t, map[string]int64{"oracle": 2, "skipped": 1, "exact": 1}, counts)
	assert.Equal(t, uint64(2), histogramCount)
}
