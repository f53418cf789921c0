package reflex

import (
	"encoding/json"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baldhumanity/reflex-go/reflex/nn"
)

func newDirStore(t *testing.T, cfg *Config) (*Store, *DirBackend) {
	t.Helper()
	backend := NewDirBackend(t.TempDir(), "epoch")
	return NewStore(cfg, backend), backend
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cfg := testConfig()
	pop := scoredPopulation(t, cfg, 31, []int{4, 9, 0, 2, 7, 1, 0, 3, 8, 5})
	store := NewStore(cfg, nil)

	data, err := store.Encode(pop)
	require.NoError(t, err)

	sorted := make([]*Genome, len(pop.Genomes))
	copy(sorted, pop.Genomes)
	sortByBestScore(sorted)

	decoded, err := store.Decode(data, rand.New(rand.NewSource(1)), 3)
	require.NoError(t, err)
	require.NoError(t, decoded.Validate())
	assert.Equal(t, 3, decoded.Generation)
	require.Len(t, decoded.Genomes, len(sorted))

	for i, want := range sorted {
		got := decoded.Genomes[i]
		assert.Equal(t, i+1, got.Key)
		assert.Equal(t, want.BestScore, got.BestScore)
		assert.Zero(t, got.Score)
		for l := range want.Network.Layers {
			for n := range want.Network.Layers[l] {
				w, g := want.Network.Layers[l][n], got.Network.Layers[l][n]
				assert.InDeltaSlice(t, w.Weights, g.Weights, 1e-12)
				assert.InDelta(t, w.Bias, g.Bias, 1e-12)
				assert.Equal(t, w.Kind, g.Kind)
				assert.Equal(t, w.LastLayer, g.LastLayer)
			}
		}
	}
	assert.Equal(t, len(sorted)+1, decoded.Reproduction.NextGenomeKey)
}

func TestEncodeLayout(t *testing.T) {
	cfg := testConfig()
	cfg.Population.PopSize = 2
	cfg.Population.Elitism = 1
	cfg.Network.HiddenLayers = 1
	cfg.Network.NodesPerLayer = 3
	pop := scoredPopulation(t, cfg, 2, []int{1, 6})

	data, err := NewStore(cfg, nil).Encode(pop)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n    \"Gene1\": {")

	var doc map[string]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc, 2)

	best := doc["Gene1"]
	assert.JSONEq(t, "6", string(best["Score"]))
	assert.Contains(t, best, "InputLayer")
	assert.Contains(t, best, "Layer1")
	assert.NotContains(t, best, "Layer2")

	var input map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(best["InputLayer"], &input))
	assert.Len(t, input, 4)
	assert.NotContains(t, input["Node0"], "Bias")
	assert.Equal(t, false, input["Node0"]["isLast"])
	assert.Len(t, input["Node0"]["Weights"], 3)

	var hidden map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(best["Layer1"], &hidden))
	assert.Len(t, hidden, 3)
	assert.Contains(t, hidden["Node2"], "Bias")
	assert.Equal(t, true, hidden["Node2"]["isLast"])
	assert.Len(t, hidden["Node2"]["Weights"], 1)
}

func TestDecodeFillsMissingParts(t *testing.T) {
	cfg := testConfig()
	cfg.Population.PopSize = 3
	cfg.Population.Elitism = 1
	cfg.Population.MatingPoolSize = 2
	cfg.Network.HiddenLayers = 2
	cfg.Network.NodesPerLayer = 4

	// One genome with only InputLayer.Node0 and a single hidden node.
	data := []byte(`{
		"Gene1": {
			"Score": 12,
			"InputLayer": {"Node0": {"Weights": [0.25, -0.5, 0.75, -1.0], "isLast": true}},
			"Layer2": {"Node1": {"Weights": [0.3], "Bias": 0.125, "isLast": false}}
		}
	}`)

	pop, err := NewStore(cfg, nil).Decode(data, rand.New(rand.NewSource(4)), 0)
	require.NoError(t, err)
	require.Len(t, pop.Genomes, 3)
	require.NoError(t, pop.Validate())

	g := pop.Genomes[0]
	assert.Equal(t, 12, g.BestScore)
	assert.Equal(t, []float64{0.25, -0.5, 0.75, -1.0}, g.Network.Layers[0][0].Weights)
	assert.False(t, g.Network.Layers[0][0].LastLayer)

	node := g.Network.Layers[2][1]
	assert.Equal(t, []float64{0.3}, node.Weights)
	assert.Equal(t, 0.125, node.Bias)
	assert.True(t, node.LastLayer)

	for _, missing := range pop.Genomes[1:] {
		assert.Zero(t, missing.BestScore)
	}
	assert.Equal(t, []int{1, 2, 3}, []int{pop.Genomes[0].Key, pop.Genomes[1].Key, pop.Genomes[2].Key})
}

func TestDecodeDropsExtras(t *testing.T) {
	cfg := testConfig()
	cfg.Population.PopSize = 2
	cfg.Population.Elitism = 1
	cfg.Population.MatingPoolSize = 1
	cfg.Network.HiddenLayers = 0

	data := []byte(`{
		"Gene10": {"Score": 1},
		"Gene2": {
			"Score": 5,
			"InputLayer": {
				"Node0": {"Weights": [0.5, 0.6, 0.7], "isLast": true},
				"Node9": {"Weights": [0.9], "isLast": true}
			},
			"Layer1": {"Node0": {"Weights": [0.1], "Bias": 0.2, "isLast": true}}
		},
		"Gene1": {"Score": 9}
	}`)

	pop, err := NewStore(cfg, nil).Decode(data, rand.New(rand.NewSource(5)), 7)
	require.NoError(t, err)
	require.Len(t, pop.Genomes, 2)
	require.NoError(t, pop.Validate())

	assert.Equal(t, 9, pop.Genomes[0].BestScore)
	assert.Equal(t, 5, pop.Genomes[1].BestScore)
	assert.Equal(t, []float64{0.5}, pop.Genomes[1].Network.Layers[0][0].Weights)
	assert.Len(t, pop.Genomes[1].Network.Layers, 1)
}

func TestDecodeTopsUpShortWeightVectors(t *testing.T) {
	cfg := testConfig()
	cfg.Population.PopSize = 1
	cfg.Population.Elitism = 1
	cfg.Population.MatingPoolSize = 1

	data := []byte(`{"Gene1": {"InputLayer": {"Node3": {"Weights": [0.5]}}}}`)
	pop, err := NewStore(cfg, nil).Decode(data, rand.New(rand.NewSource(6)), 0)
	require.NoError(t, err)
	require.NoError(t, pop.Validate())

	weights := pop.Genomes[0].Network.Layers[0][3].Weights
	require.Len(t, weights, cfg.Network.NodesPerLayer)
	assert.Equal(t, 0.5, weights[0])
	for _, w := range weights[1:] {
		assert.Greater(t, w*w, cfg.Network.Epsilon*cfg.Network.Epsilon)
	}
}

func TestDecodeRejectsNonObject(t *testing.T) {
	store := NewStore(testConfig(), nil)
	_, err := store.Decode([]byte(`[1, 2, 3]`), rand.New(rand.NewSource(1)), 0)
	assert.Error(t, err)
}

func TestNaturalLess(t *testing.T) {
	assert.True(t, naturalLess("Gene2", "Gene10"))
	assert.False(t, naturalLess("Gene10", "Gene2"))
	assert.True(t, naturalLess("Gene1", "Gene2"))
	assert.True(t, naturalLess("Alpha", "Gene1"))
}

func TestExportAndDiscover(t *testing.T) {
	cfg := testConfig()
	store, backend := newDirStore(t, cfg)

	count, last := store.Discover()
	assert.Zero(t, count)
	assert.Nil(t, last)

	pop := scoredPopulation(t, cfg, 8, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	require.NoError(t, store.Export(pop))
	assert.FileExists(t, filepath.Join(backend.Dir, "epoch0.json"))

	next, err := pop.Evolve()
	require.NoError(t, err)
	require.NoError(t, store.Export(next))

	count, last = store.Discover()
	assert.Equal(t, 2, count)
	want, err := os.ReadFile(backend.Path(1))
	require.NoError(t, err)
	assert.Equal(t, want, last)
}

func TestDiscoverStopsAtGap(t *testing.T) {
	cfg := testConfig()
	store, backend := newDirStore(t, cfg)
	pop := scoredPopulation(t, cfg, 8, make([]int, 10))

	require.NoError(t, store.Export(pop))
	pop.Generation = 2
	require.NoError(t, store.Export(pop))

	count, _ := store.Discover()
	assert.Equal(t, 1, count)
	assert.FileExists(t, backend.Path(2))
}

func TestDiscoverStopsAtMalformedGeneration(t *testing.T) {
	cfg := testConfig()
	store, backend := newDirStore(t, cfg)
	pop := scoredPopulation(t, cfg, 8, make([]int, 10))

	require.NoError(t, store.Export(pop))
	require.NoError(t, os.WriteFile(backend.Path(1), []byte("{not json"), 0644))
	pop.Generation = 2
	require.NoError(t, store.Export(pop))

	count, last := store.Discover()
	assert.Equal(t, 1, count)
	want, err := os.ReadFile(backend.Path(0))
	require.NoError(t, err)
	assert.Equal(t, want, last)
}

func TestResumeFromEmptyStore(t *testing.T) {
	cfg := testConfig()
	store, _ := newDirStore(t, cfg)

	pop, err := store.Resume(rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Zero(t, pop.Generation)
	assert.Len(t, pop.Genomes, cfg.Population.PopSize)
	require.NoError(t, pop.Validate())
}

func TestResumeEvolvesNewestGeneration(t *testing.T) {
	cfg := testConfig()
	store, _ := newDirStore(t, cfg)

	pop := scoredPopulation(t, cfg, 8, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	require.NoError(t, store.Export(pop))
	pop.Generation = 1
	require.NoError(t, store.Export(pop))

	resumed, err := store.Resume(rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	assert.Equal(t, 2, resumed.Generation)
	require.Len(t, resumed.Genomes, cfg.Population.PopSize)
	require.NoError(t, resumed.Validate())

	best := pop.Best()
	assert.Equal(t, best.BestScore, resumed.Genomes[0].BestScore)
	assert.InDeltaSlice(t, best.Network.Layers[0][0].Weights, resumed.Genomes[0].Network.Layers[0][0].Weights, 1e-12)
	for _, g := range resumed.Genomes {
		assert.Zero(t, g.Score)
	}
}

func TestResumeInReplayMode(t *testing.T) {
	cfg := testConfig()
	store, backend := newDirStore(t, cfg)

	pop := scoredPopulation(t, cfg, 8, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	require.NoError(t, store.Export(pop))

	cfg.Population.Replay = true
	resumed, err := store.Resume(rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	assert.Equal(t, 0, resumed.Generation)
	assert.Equal(t, 10, resumed.Genomes[0].BestScore)

	resumed.Generation = 1
	require.NoError(t, store.Export(resumed))
	assert.NoFileExists(t, backend.Path(1))
}

type failingBackend struct{}

func (failingBackend) Read(int) ([]byte, error) { return nil, ErrGenerationNotFound }
func (failingBackend) Write(int, []byte) error  { return errors.New("disk full") }

func TestExportReportsBackendFailure(t *testing.T) {
	cfg := testConfig()
	store := NewStore(cfg, failingBackend{})
	pop := scoredPopulation(t, cfg, 8, make([]int, 10))

	err := store.Export(pop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestSQLiteBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Backend = "sqlite"
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "generations.db")

	store, err := OpenStore(cfg)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Backend.Read(0)
	assert.ErrorIs(t, err, ErrGenerationNotFound)

	pop := scoredPopulation(t, cfg, 9, []int{3, 1, 4, 1, 5, 9, 2, 6, 5, 3})
	require.NoError(t, store.Export(pop))
	pop.Generation = 1
	require.NoError(t, store.Export(pop))
	require.NoError(t, store.Export(pop))

	count, last := store.Discover()
	assert.Equal(t, 2, count)

	decoded, err := store.Decode(last, rand.New(rand.NewSource(1)), 1)
	require.NoError(t, err)
	assert.Equal(t, 9, decoded.Genomes[0].BestScore)
	require.NoError(t, decoded.Validate())
}

func TestOpenStoreRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Backend = "s3"
	_, err := OpenStore(cfg)
	assert.Error(t, err)
}

func TestDecodedNodesFollowPosition(t *testing.T) {
	cfg := testConfig()
	cfg.Population.PopSize = 1
	cfg.Population.Elitism = 1
	cfg.Population.MatingPoolSize = 1
	cfg.Network.HiddenLayers = 1

	data := []byte(`{"Gene1": {"Layer1": {"Node0": {"Weights": [0.4, 0.1], "Bias": 0.2, "isLast": false}}}}`)
	pop, err := NewStore(cfg, nil).Decode(data, rand.New(rand.NewSource(3)), 0)
	require.NoError(t, err)

	node := pop.Genomes[0].Network.Layers[1][0]
	assert.Equal(t, nn.ActivationKind, node.Kind)
	assert.True(t, node.LastLayer)
	assert.Equal(t, []float64{0.4}, node.Weights)
}

func TestReplaySeedsFirstGeneration(t *testing.T) {
	cfg := testConfig()
	cfg.Population.Replay = true
	store, backend := newDirStore(t, cfg)

	pop, err := store.Resume(rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Zero(t, pop.Generation)

	pop.FinalizeAll()
	require.NoError(t, store.Export(pop))
	assert.FileExists(t, backend.Path(0))

	count, _ := store.Discover()
	assert.Equal(t, 1, count)
}

func TestAdvanceReplaysStoredGeneration(t *testing.T) {
	cfg := testConfig()
	store, backend := newDirStore(t, cfg)

	pop := scoredPopulation(t, cfg, 8, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	require.NoError(t, store.Export(pop))
	pop.Generation = 1
	require.NoError(t, store.Export(pop))

	cfg.Population.Replay = true
	played, err := store.Resume(rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	require.Equal(t, 1, played.Generation)

	for round := 0; round < 3; round++ {
		for i, g := range played.Genomes {
			g.RecordScore(100 + i)
		}
		played.FinalizeAll()
		require.NoError(t, store.Export(played))

		next, err := store.Advance(played)
		require.NoError(t, err)
		assert.Equal(t, 1, next.Generation)
		require.Len(t, next.Genomes, len(played.Genomes))

		_, last := store.Discover()
		stored, err := store.Decode(last, rand.New(rand.NewSource(3)), 1)
		require.NoError(t, err)
		for i, g := range next.Genomes {
			assert.Equal(t, stored.Genomes[i].Network, g.Network)
			assert.Equal(t, stored.Genomes[i].BestScore, g.BestScore)
			assert.Zero(t, g.Score)
		}
		played = next
	}
	assert.NoFileExists(t, backend.Path(2))
}

func TestAdvanceEvolvesOutsideReplay(t *testing.T) {
	cfg := testConfig()
	store, _ := newDirStore(t, cfg)
	pop := scoredPopulation(t, cfg, 8, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})

	next, err := store.Advance(pop)
	require.NoError(t, err)
	assert.Equal(t, 1, next.Generation)
	assert.Equal(t, 10, next.Genomes[0].BestScore)
	assert.Zero(t, next.Genomes[2].BestScore)
}

func TestNullGenerationIsMalformed(t *testing.T) {
	cfg := testConfig()
	store, backend := newDirStore(t, cfg)

	_, err := store.Decode([]byte("null"), rand.New(rand.NewSource(1)), 0)
	assert.Error(t, err)

	pop := scoredPopulation(t, cfg, 8, make([]int, 10))
	require.NoError(t, store.Export(pop))
	require.NoError(t, os.WriteFile(backend.Path(1), []byte("null"), 0644))

	count, last := store.Discover()
	assert.Equal(t, 1, count)
	want, err := os.ReadFile(backend.Path(0))
	require.NoError(t, err)
	assert.Equal(t, want, last)
}

func TestDecodeNodeWithoutWeightsCountsAsRandomized(t *testing.T) {
	topology := testConfig().Topology()
	rng := rand.New(rand.NewSource(1))

	for _, raw := range []string{`{"Bias": 0.5}`, `{"Weights": null, "Bias": 0.5}`, `{"Weights": []}`} {
		node, ok := decodeNode(json.RawMessage(raw), rng, topology, 1)
		assert.False(t, ok, raw)
		assert.Len(t, node.Weights, topology.FanOut(1))
	}

	node, ok := decodeNode(json.RawMessage(`{"Weights": [0.5], "Bias": 0.25}`), rng, topology, 1)
	assert.True(t, ok)
	assert.Equal(t, 0.5, node.Weights[0])
	assert.Equal(t, 0.25, node.Bias)
}

func TestDirBackendWriteReplacesWholeFile(t *testing.T) {
	backend := NewDirBackend(filepath.Join(t.TempDir(), "epochs"), "epoch")

	require.NoError(t, backend.Write(0, []byte(`{"Gene1": {"Score": 123456789}}`)))
	require.NoError(t, backend.Write(0, []byte(`{}`)))

	data, err := backend.Read(0)
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))

	entries, err := os.ReadDir(backend.Dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary files are left behind")
	assert.Equal(t, "epoch0.json", entries[0].Name())
}
