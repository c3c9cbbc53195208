package loader

import (
	"time"

	"github.com/go-graphload/graphload"
	"github.com/go-graphload/graphload/errors"
	uuid "github.com/gofrs/uuid"
)

// Config holds the validated, immutable parameters of a Loader. Zero values
// are replaced by defaults at construction; the struct is never mutated
// after validation.
type Config struct {
	// DB is the remote graph database collaborator. Required.
	DB graphload.GraphDB
	// Broker enables message-queue transport when non-nil. When nil, query
	// results stream back directly over the database connection.
	Broker graphload.Broker

	// LoaderID identifies this loader. It is also the base of the topic
	// name in broker mode. Defaults to a generated id.
	LoaderID string
	// NumBatches divides the data into a fixed number of batches.
	// Mutually exclusive with BatchSize. Defaults to 1.
	NumBatches int
	// BatchSize bounds each batch by row count; the batch count is computed
	// once at construction from a remote count query
	BatchSize int
	// BufferSize bounds the number of parsed batches buffered ahead of the
	// consumer. Defaults to 4.
	BufferSize int
	// Shuffle asks the server to randomize batch assignment
	Shuffle bool
	// FilterBy restricts the data to rows where this boolean attribute is set
	FilterBy string
	// Delimiter separates fields within a line. Defaults to ","
	Delimiter string
	// Timeout bounds remote query execution. Defaults to 5m.
	Timeout time.Duration
	// ReverseEdge also registers reverse edge types from the schema
	ReverseEdge bool
	// DistributedQuery installs the query in distributed mode
	DistributedQuery bool

	// Attribute selections, partitioned into input features, output labels
	// and extra pass-through attributes. A loader is heterogeneous iff any
	// selection is per-type.
	VertexInFeats    graphload.AttributeSelection
	VertexOutLabels  graphload.AttributeSelection
	VertexExtraFeats graphload.AttributeSelection
	EdgeInFeats      graphload.AttributeSelection
	EdgeOutLabels    graphload.AttributeSelection
	EdgeExtraFeats   graphload.AttributeSelection

	// AddSelfLoop appends one self-referencing edge per vertex to every
	// graph batch
	AddSelfLoop bool

	// NumNeighbors and NumHops parameterize neighbor sampling. Defaults: 10, 2.
	NumNeighbors int
	NumHops      int
	// SeedTypes restricts the vertex types used as sampling seeds.
	// Defaults to all vertex types the loader covers.
	SeedTypes []string

	// Topic overrides the generated topic name in broker mode
	Topic string
	// GroupID joins a consumer group for dynamic partition assignment
	GroupID string
	// SkipProduce omits query dispatch and only consumes an
	// already-produced topic, for cooperating sibling loaders
	SkipProduce bool
	// KeepTopic suppresses deletion of an owned topic at teardown
	KeepTopic bool
	// ProducerAddress is the broker address the server-side producer
	// publishes to. Required in broker mode unless SkipProduce is set.
	ProducerAddress string
	// Partitions, Replicas, RetentionMS and MaxMessageBytes configure topic
	// creation. Defaults: 1, 1, 60000, 104857600.
	Partitions      int
	Replicas        int
	RetentionMS     int64
	MaxMessageBytes int64
	// PollInterval bounds each transport poll wait, keeping the
	// cancellation signal observable. Defaults to 1s.
	PollInterval time.Duration
	// MaxIdle aborts the run when the transport delivers nothing for this
	// long. Defaults to 5m.
	MaxIdle time.Duration
}

// ensureDefaults fills in default values for unset parameters
func (conf *Config) ensureDefaults() {
	if conf.LoaderID == "" {
		id, err := uuid.NewV4()
		if err == nil {
			conf.LoaderID = "gl_" + id.String()[:8]
		} else {
			conf.LoaderID = "gl_loader"
		}
	}
	if conf.NumBatches == 0 && conf.BatchSize == 0 {
		conf.NumBatches = 1
	}
	if conf.BufferSize == 0 {
		conf.BufferSize = 4
	}
	if conf.Delimiter == "" {
		conf.Delimiter = ","
	}
	if conf.Timeout == 0 {
		conf.Timeout = 5 * time.Minute
	}
	if conf.NumNeighbors == 0 {
		conf.NumNeighbors = 10
	}
	if conf.NumHops == 0 {
		conf.NumHops = 2
	}
	if conf.Partitions == 0 {
		conf.Partitions = 1
	}
	if conf.Replicas == 0 {
		conf.Replicas = 1
	}
	if conf.RetentionMS == 0 {
		conf.RetentionMS = 60000
	}
	if conf.MaxMessageBytes == 0 {
		conf.MaxMessageBytes = 104857600
	}
	if conf.PollInterval == 0 {
		conf.PollInterval = time.Second
	}
	if conf.MaxIdle == 0 {
		conf.MaxIdle = 5 * time.Minute
	}
}

// validate rejects missing or contradictory parameters before any stage starts
func (conf *Config) validate() error {
	if conf.DB == nil {
		return errors.ConfigurationError{Reason: "a database connection is required"}
	}
	if conf.NumBatches > 0 && conf.BatchSize > 0 {
		return errors.ConfigurationError{Reason: "NumBatches and BatchSize cannot both be set"}
	}
	if conf.NumBatches < 0 || conf.BatchSize < 0 {
		return errors.ConfigurationError{Reason: "batch parameters cannot be negative"}
	}
	if conf.Broker == nil && conf.SkipProduce {
		return errors.ConfigurationError{Reason: "SkipProduce requires a broker"}
	}
	if conf.Broker != nil && !conf.SkipProduce && conf.ProducerAddress == "" {
		return errors.ConfigurationError{Reason: "ProducerAddress is required to produce to a broker"}
	}
	if _, err := conf.hetero(); err != nil {
		return err
	}
	return nil
}

// hetero resolves the output shape from the selections: all non-empty
// selections must agree on flat vs per-type
func (conf *Config) hetero() (bool, error) {
	selections := []graphload.AttributeSelection{
		conf.VertexInFeats, conf.VertexOutLabels, conf.VertexExtraFeats,
		conf.EdgeInFeats, conf.EdgeOutLabels, conf.EdgeExtraFeats,
	}
	sawFlat, sawByType := false, false
	for _, sel := range selections {
		if sel.Empty() && !sel.Hetero() {
			continue
		}
		if sel.Hetero() {
			sawByType = true
		} else {
			sawFlat = true
		}
	}
	if sawFlat && sawByType {
		return false, errors.ConfigurationError{Reason: "attribute selections mix flat and per-type shapes"}
	}
	return sawByType, nil
}

// topicBase derives the topic name used when Topic is not set explicitly
func (conf *Config) topicBase() string {
	if conf.Topic != "" {
		return conf.Topic
	}
	if conf.GroupID != "" {
		return conf.GroupID + "_topic"
	}
	return conf.LoaderID + "_topic"
}
