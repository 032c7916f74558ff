package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// TopicSpec describes a topic to create when it does not exist yet.
type TopicSpec struct {
	Partitions        int32 `yaml:"partitions"`
	ReplicationFactor int16 `yaml:"replicationFactor"`
}

type topicCreator interface {
	CreateTopic(ctx context.Context, partitions int32, replicationFactor int16, configs map[string]*string, topic string) (kadm.CreateTopicResponse, error)
}

// EnsureTopic creates topic on the cluster. An existing topic is not an error.
func EnsureTopic(ctx context.Context, cluster *ClusterConfig, topic string, spec TopicSpec) error {
	opts, err := ClientOptions(cluster)
	if err != nil {
		return fmt.Errorf("cluster options: %w", err)
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("kafka admin client: %w", err)
	}
	defer client.Close()

	return ensureTopic(ctx, kadm.NewClient(client), topic, spec)
}

func ensureTopic(ctx context.Context, admin topicCreator, topic string, spec TopicSpec) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	partitions := spec.Partitions
	if partitions <= 0 {
		partitions = -1 // broker default
	}
	replication := spec.ReplicationFactor
	if replication <= 0 {
		replication = -1
	}

	resp, err := admin.CreateTopic(ctx, partitions, replication, nil, topic)
	if err == nil {
		err = resp.Err
	}
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %q: %w", topic, err)
	}
	return nil
}
