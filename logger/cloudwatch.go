package logger

import (
	"context"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/sirupsen/logrus"
)

const defaultNamespace = "Barflow"

// MetricsAPI is the subset of the CloudWatch client used for publishing.
type MetricsAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

type cloudWatchPublisher struct {
	client    MetricsAPI
	namespace string
	timeout   time.Duration
}

// EnableCloudWatch makes LogMetric publish numeric values to CloudWatch
// under namespace. Publishing failures are logged at warn level and never
// returned to the caller.
func (l *Log) EnableCloudWatch(client MetricsAPI, namespace string) {
	if client == nil {
		l.metrics = nil
		return
	}
	if namespace == "" {
		namespace = defaultNamespace
	}
	l.metrics = &cloudWatchPublisher{client: client, namespace: namespace, timeout: 5 * time.Second}
	l.WithComponent("cloudwatch").WithFields(Fields{"namespace": namespace}).Info("cloudwatch metrics enabled")
}

func (p *cloudWatchPublisher) publish(metric string, value float64, dims map[string]string, entry *logrus.Entry) {
	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	dimensions := make([]cwtypes.Dimension, 0, len(keys))
	for _, k := range keys {
		dimensions = append(dimensions, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(dims[k])})
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: aws.String(metric),
			Dimensions: dimensions,
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(value),
		}},
	})
	if err != nil {
		entry.WithField("component", "cloudwatch").WithError(err).Warn("failed to publish CloudWatch metric")
		return
	}
	entry.WithField("component", "cloudwatch").WithField("metric", metric).Debug("published metric to CloudWatch")
}
