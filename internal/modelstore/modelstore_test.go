package modelstore_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/switchwatch/internal/modelstore"
	"procodus.dev/switchwatch/pkg/anomaly"
)

func forestEntry(key modelstore.Key) modelstore.Entry {
	data := make([][]float64, 0, 64)
	for i := 0; i < 64; i++ {
		x := float64(i % 8)
		data = append(data, []float64{x, x * 0.5, 1 + x})
	}
	scaler, err := anomaly.FitScaler(data)
	Expect(err).NotTo(HaveOccurred())
	scaled, err := scaler.Transform(data)
	Expect(err).NotTo(HaveOccurred())
	forest, err := anomaly.FitForest(scaled, anomaly.ForestOptions{Trees: 10, SampleSize: 32, Contamination: 0.05, Seed: 1})
	Expect(err).NotTo(HaveOccurred())
	return modelstore.Entry{
		Key:       key,
		Version:   uuid.New(),
		TrainedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Samples:   len(data),
		Scaler:    scaler,
		Forest:    forest,
	}
}

func clusterEntry(key modelstore.Key) modelstore.Entry {
	params := anomaly.DefaultClusterParams()
	return modelstore.Entry{
		Key:       key,
		Version:   uuid.New(),
		TrainedAt: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
		Samples:   20,
		Scaler:    &anomaly.Scaler{Mean: []float64{6, 4}, Scale: []float64{0.5, 0.3}},
		Cluster:   &params,
	}
}

var (
	phaseKey = modelstore.Key{AssetID: "VIM_11_21", Family: modelstore.FamilyPhaseCurrent}
	transKey = modelstore.Key{AssetID: "VIM_11_21", Family: modelstore.FamilyTransition, SubID: "normal_to_reverse"}
)

func byKey(entries []modelstore.Entry) []modelstore.Entry {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key.String() < entries[j].Key.String() })
	return entries
}

// behavesLikeModelStore runs the shared contract against a store factory.
func behavesLikeModelStore(newStore func() modelstore.ModelStore) {
	var (
		ctx context.Context
		ms  modelstore.ModelStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		ms = newStore()
	})

	AfterEach(func() {
		Expect(ms.Close()).To(Succeed())
	})

	It("should start empty", func() {
		entries, err := ms.LoadAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())
	})

	It("should round-trip forest and cluster entries", func() {
		phase := forestEntry(phaseKey)
		trans := clusterEntry(transKey)
		Expect(ms.Save(ctx, phase)).To(Succeed())
		Expect(ms.Save(ctx, trans)).To(Succeed())

		entries, err := ms.LoadAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		entries = byKey(entries)
		Expect(entries).To(HaveLen(2))

		Expect(entries[0].Key).To(Equal(phaseKey))
		Expect(entries[0].Version).To(Equal(phase.Version))
		Expect(entries[0].TrainedAt.Equal(phase.TrainedAt)).To(BeTrue())
		Expect(entries[0].Forest.Threshold).To(Equal(phase.Forest.Threshold))
		Expect(entries[0].Forest.Trees).To(HaveLen(10))
		Expect(entries[0].Scaler.Mean).To(Equal(phase.Scaler.Mean))

		Expect(entries[1].Key).To(Equal(transKey))
		Expect(*entries[1].Cluster).To(Equal(anomaly.DefaultClusterParams()))
	})

	It("should replace an entry with the same key", func() {
		first := clusterEntry(transKey)
		second := clusterEntry(transKey)
		second.Samples = 99
		Expect(ms.Save(ctx, first)).To(Succeed())
		Expect(ms.Save(ctx, second)).To(Succeed())

		entries, err := ms.LoadAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Version).To(Equal(second.Version))
		Expect(entries[0].Samples).To(Equal(99))
	})

	It("should reject incomplete entries", func() {
		e := clusterEntry(transKey)
		e.Scaler = nil
		Expect(ms.Save(ctx, e)).To(MatchError(modelstore.ErrInvalidEntry))
	})
}

var _ = Describe("Key", func() {
	It("should render a path", func() {
		Expect(phaseKey.String()).To(Equal("VIM_11_21/phase_current"))
		Expect(transKey.String()).To(Equal("VIM_11_21/transition/normal_to_reverse"))
	})
})

var _ = Describe("Entry", func() {
	It("should require a model", func() {
		e := forestEntry(phaseKey)
		e.Forest = nil
		Expect(e.Validate()).To(MatchError(modelstore.ErrInvalidEntry))
	})

	It("should require an asset", func() {
		e := forestEntry(modelstore.Key{Family: modelstore.FamilyPhaseCurrent})
		Expect(e.Validate()).To(MatchError(modelstore.ErrInvalidEntry))
	})
})

var _ = Describe("MemoryStore", func() {
	behavesLikeModelStore(func() modelstore.ModelStore {
		return modelstore.NewMemoryStore()
	})
})

var _ = Describe("RedisStore", func() {
	var mr *miniredis.Miniredis

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(mr.Close)
	})

	behavesLikeModelStore(func() modelstore.ModelStore {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		ms, err := modelstore.NewRedisStoreWithClient(client, "", testLogger())
		Expect(err).NotTo(HaveOccurred())
		return ms
	})

	It("should drop index entries whose value expired", func() {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		ms, err := modelstore.NewRedisStoreWithClient(client, "", testLogger())
		Expect(err).NotTo(HaveOccurred())
		defer ms.Close()

		ctx := context.Background()
		Expect(ms.Save(ctx, clusterEntry(transKey))).To(Succeed())
		mr.Del(modelstore.DefaultRedisPrefix + transKey.String())

		entries, err := ms.LoadAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())
		Expect(mr.Exists(modelstore.DefaultRedisPrefix + "index")).To(BeFalse())
	})

	It("should fail to connect to an unreachable server", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := modelstore.NewRedisStore(ctx, modelstore.RedisConfig{Addr: "127.0.0.1:1"}, testLogger())
		Expect(err).To(HaveOccurred())
	})
})

// fakeS3 implements the subset of the S3 API used by S3Store.
type fakeS3 struct {
	s3iface.S3API
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.StringValue(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data := f.objects[aws.StringValue(in.Key)]
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2PagesWithContext(_ aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	f.mu.Lock()
	page := &s3.ListObjectsV2Output{}
	for k := range f.objects {
		if strings.HasPrefix(k, aws.StringValue(in.Prefix)) {
			page.Contents = append(page.Contents, &s3.Object{Key: aws.String(k)})
		}
	}
	f.mu.Unlock()
	fn(page, true)
	return nil
}

var _ = Describe("S3Store", func() {
	var api *fakeS3

	BeforeEach(func() {
		api = &fakeS3{objects: make(map[string][]byte)}
	})

	behavesLikeModelStore(func() modelstore.ModelStore {
		ms, err := modelstore.NewS3StoreWithClient(api, "switchwatch-models", "", testLogger())
		Expect(err).NotTo(HaveOccurred())
		return ms
	})

	It("should store one object per key under the prefix", func() {
		ms, err := modelstore.NewS3StoreWithClient(api, "switchwatch-models", "prod", testLogger())
		Expect(err).NotTo(HaveOccurred())
		Expect(ms.Save(context.Background(), clusterEntry(transKey))).To(Succeed())
		Expect(api.objects).To(HaveKey("prod/VIM_11_21/transition/normal_to_reverse.json"))
	})

	It("should require a bucket", func() {
		_, err := modelstore.NewS3StoreWithClient(api, "", "", testLogger())
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Open", func() {
	It("should default to memory without a database", func() {
		ms, err := modelstore.Open(context.Background(), modelstore.Config{Logger: testLogger()})
		Expect(err).NotTo(HaveOccurred())
		Expect(ms).To(BeAssignableToTypeOf(&modelstore.MemoryStore{}))
	})

	It("should reject unknown backends", func() {
		_, err := modelstore.Open(context.Background(), modelstore.Config{Logger: testLogger(), Backend: "etcd"})
		Expect(err).To(HaveOccurred())
	})

	It("should require a logger", func() {
		_, err := modelstore.Open(context.Background(), modelstore.Config{})
		Expect(err).To(HaveOccurred())
	})

	It("should reject a gorm store without a database", func() {
		_, err := modelstore.NewGormStore(context.Background(), nil, testLogger())
		Expect(err).To(HaveOccurred())
	})
})

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}
