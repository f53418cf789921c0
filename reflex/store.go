package reflex

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strconv"

	"github.com/baldhumanity/reflex-go/reflex/nn"
)

// ErrGenerationNotFound is returned by a Backend when a generation was never written.
var ErrGenerationNotFound = errors.New("generation not found")

// Backend persists encoded generations by zero-based index.
type Backend interface {
	Read(generation int) ([]byte, error)
	Write(generation int, data []byte) error
}

// Keys of the generation file format.
const (
	genomeKeyPrefix = "Gene"
	layerKeyPrefix  = "Layer"
	nodeKeyPrefix   = "Node"
	scoreKey        = "Score"
	inputLayerKey   = "InputLayer"
)

// nodeRecord is the persisted form of a single node.
type nodeRecord struct {
	Weights []float64 `json:"Weights"`
	Bias    *float64  `json:"Bias,omitempty"`
	IsLast  bool      `json:"isLast"`
}

// Store exports and imports populations at generation boundaries.
type Store struct {
	Config  *Config
	Backend Backend
	Logger  *slog.Logger
}

// NewStore creates a store over an existing backend.
func NewStore(config *Config, backend Backend) *Store {
	return &Store{
		Config:  config,
		Backend: backend,
		Logger:  slog.Default(),
	}
}

// OpenStore creates the backend selected by the [Store] configuration.
func OpenStore(config *Config) (*Store, error) {
	var backend Backend
	switch config.Store.Backend {
	case "", "dir":
		backend = NewDirBackend(config.Store.Directory, config.Store.FilePrefix)
	case "sqlite":
		b, err := OpenSQLiteBackend(config.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		backend = b
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", config.Store.Backend)
	}
	return NewStore(config, backend), nil
}

// Close releases the backend if it holds resources.
func (s *Store) Close() error {
	closer, ok := s.Backend.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}

// --------------------------- Export ---------------------------

// Export writes pop as generation pop.Generation. In replay mode only
// generation 0 is written, so replaying from an empty store seeds it.
func (s *Store) Export(pop *Population) error {
	if s.Config.Population.Replay && pop.Generation > 0 {
		s.Logger.Info("replay mode, skipping export", "generation", pop.Generation)
		return nil
	}
	data, err := s.Encode(pop)
	if err != nil {
		return fmt.Errorf("failed to encode generation %d: %w", pop.Generation, err)
	}
	if err := s.Backend.Write(pop.Generation, data); err != nil {
		return fmt.Errorf("failed to write generation %d: %w", pop.Generation, err)
	}
	s.Logger.Info("generation exported", "generation", pop.Generation, "genomes", pop.Size(), "bytes", len(data))
	return nil
}

// Encode serializes the population, best genome first.
func (s *Store) Encode(pop *Population) ([]byte, error) {
	genomes := make([]*Genome, len(pop.Genomes))
	copy(genomes, pop.Genomes)
	sortByBestScore(genomes)

	data := make(map[string]map[string]interface{}, len(genomes))
	for i, g := range genomes {
		data[genomeKeyPrefix+strconv.Itoa(i+1)] = encodeGenome(g)
	}
	return json.MarshalIndent(data, "", "    ")
}

func encodeGenome(g *Genome) map[string]interface{} {
	record := make(map[string]interface{}, len(g.Network.Layers)+1)
	record[scoreKey] = g.BestScore
	for i, layer := range g.Network.Layers {
		nodes := make(map[string]nodeRecord, len(layer))
		for j, node := range layer {
			weights := make([]float64, len(node.Weights))
			copy(weights, node.Weights)
			nr := nodeRecord{Weights: weights, IsLast: node.LastLayer}
			if node.Kind == nn.ActivationKind {
				bias := node.Bias
				nr.Bias = &bias
			}
			nodes[nodeKeyPrefix+strconv.Itoa(j)] = nr
		}
		record[layerKey(i)] = nodes
	}
	return record
}

func layerKey(layer int) string {
	if layer == 0 {
		return inputLayerKey
	}
	return layerKeyPrefix + strconv.Itoa(layer)
}

// --------------------------- Import ---------------------------

// Decode rebuilds a population from an encoded generation. Whatever is
// missing is filled with random genomes, layers or nodes, and anything
// beyond the configured bounds is dropped. Only a payload that is not a
// JSON object at all is an error.
func (s *Store) Decode(data []byte, rng *rand.Rand, generation int) (*Population, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode generation %d: %w", generation, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("failed to decode generation %d: payload is null", generation)
	}

	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return naturalLess(ids[i], ids[j]) })

	popSize := s.Config.Population.PopSize
	if len(ids) > popSize {
		s.Logger.Warn("generation holds more genomes than configured, discarding extras",
			"generation", generation, "genomes", len(ids), "pop_size", popSize)
		ids = ids[:popSize]
	}

	topology := s.Config.Topology()
	genomes := make([]*Genome, 0, popSize)
	defaulted := 0
	for i, id := range ids {
		g, filled := s.decodeGenome(raw[id], rng, topology)
		g.Key = i + 1
		genomes = append(genomes, g)
		defaulted += filled
	}
	for i := len(genomes); i < popSize; i++ {
		genomes = append(genomes, NewGenome(i+1, rng, topology))
		defaulted++
	}
	if defaulted > 0 {
		s.Logger.Warn("generation incomplete, randomized missing parts",
			"generation", generation, "decoded_genomes", len(ids), "randomized", defaulted)
	}

	return newPopulationFrom(s.Config, rng, genomes, generation), nil
}

// decodeGenome rebuilds one genome. The second result counts the genomes,
// layers and nodes that had to be randomized.
func (s *Store) decodeGenome(raw json.RawMessage, rng *rand.Rand, topology nn.Topology) (*Genome, int) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return &Genome{Network: nn.NewNetwork(rng, topology)}, 1
	}

	g := &Genome{}
	if v, ok := fields[scoreKey]; ok {
		var score float64
		if err := json.Unmarshal(v, &score); err == nil {
			g.BestScore = int(score)
		}
	}

	filled := 0
	layers := make([][]*nn.Node, topology.HiddenLayers+1)
	for i := range layers {
		v, ok := fields[layerKey(i)]
		var nodes map[string]json.RawMessage
		if !ok || json.Unmarshal(v, &nodes) != nil {
			layers[i] = topology.NewLayer(rng, i)
			filled++
			continue
		}
		layers[i] = make([]*nn.Node, topology.LayerWidth(i))
		for j := range layers[i] {
			node, ok := decodeNode(nodes[nodeKeyPrefix+strconv.Itoa(j)], rng, topology, i)
			if !ok {
				filled++
			}
			layers[i][j] = node
		}
	}
	g.Network = &nn.Network{Layers: layers}
	return g, filled
}

// decodeNode rebuilds the node at layer from raw. The terminal flag always
// follows the node's position. Weight vectors of the wrong length are
// trimmed or topped up with random weights, and a missing bias is random.
// It reports false when the node had to be created from scratch or none of
// its weights were stored.
func decodeNode(raw json.RawMessage, rng *rand.Rand, topology nn.Topology, layer int) (*nn.Node, bool) {
	var nr nodeRecord
	if len(raw) == 0 || string(raw) == "null" || json.Unmarshal(raw, &nr) != nil {
		return topology.NewNode(rng, layer), false
	}

	node := topology.NewNode(rng, layer)
	copy(node.Weights, nr.Weights)
	if node.Kind == nn.ActivationKind && nr.Bias != nil {
		node.Bias = *nr.Bias
	}
	return node, len(nr.Weights) > 0
}

// naturalLess orders identifiers by their trailing number when both have
// one, so "Gene2" sorts before "Gene10".
func naturalLess(a, b string) bool {
	pa, na, okA := splitTrailingNumber(a)
	pb, nb, okB := splitTrailingNumber(b)
	if okA && okB && pa == pb && na != nb {
		return na < nb
	}
	return a < b
}

func splitTrailingNumber(s string) (string, int, bool) {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) {
		return s, 0, false
	}
	n, err := strconv.Atoi(s[i:])
	if err != nil {
		return s, 0, false
	}
	return s[:i], n, true
}

// --------------------------- Discovery ---------------------------

// Discover probes generations 0, 1, ... and stops at the first one that is
// missing or unreadable. It returns that index, which is both the number of
// usable generations and the next index to write, along with the payload
// of the last usable generation.
func (s *Store) Discover() (int, []byte) {
	var last []byte
	for generation := 0; ; generation++ {
		data, err := s.Backend.Read(generation)
		if err != nil {
			if !errors.Is(err, ErrGenerationNotFound) {
				s.Logger.Warn("generation unreadable, treating as end of history", "generation", generation, "error", err)
			}
			return generation, last
		}
		var probe map[string]json.RawMessage
		if json.Unmarshal(data, &probe) != nil || probe == nil {
			s.Logger.Warn("generation malformed, treating as end of history", "generation", generation)
			return generation, last
		}
		last = data
	}
}

// Resume restores the run from the backend. With no stored generations it
// bootstraps a random generation 0. Otherwise it imports the newest
// generation and evolves it into the next one, except in replay mode where
// the newest generation is returned as is. Live scores start at zero.
func (s *Store) Resume(rng *rand.Rand) (*Population, error) {
	count, last := s.Discover()
	if count == 0 {
		s.Logger.Info("no stored generations, starting from random genomes")
		pop, err := NewPopulation(s.Config, rng)
		if err != nil {
			return nil, err
		}
		pop.Logger = s.Logger
		return pop, nil
	}

	pop, err := s.Decode(last, rng, count-1)
	if err != nil {
		return nil, err
	}
	pop.Logger = s.Logger
	s.Logger.Info("generation imported", "generation", pop.Generation, "replay", s.Config.Population.Replay)

	if !s.Config.Population.Replay {
		pop, err = pop.Evolve()
		if err != nil {
			return nil, fmt.Errorf("failed to evolve imported generation: %w", err)
		}
	}
	pop.ResetScores()
	return pop, nil
}

// Advance moves the run on after pop has been played and exported. In
// replay mode the newest stored generation is imported again unchanged;
// otherwise pop is evolved into the next generation.
func (s *Store) Advance(pop *Population) (*Population, error) {
	if !s.Config.Population.Replay {
		return pop.Evolve()
	}
	next, err := s.Resume(pop.Reproduction.Rand())
	if err != nil {
		return nil, fmt.Errorf("failed to reload generation for replay: %w", err)
	}
	return next, nil
}
