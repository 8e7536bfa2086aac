package providers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/optiinfra/optiinfra/internal/apperrors"
	"github.com/optiinfra/optiinfra/internal/credentials"
	"github.com/optiinfra/optiinfra/internal/storage/timeseries"
)

// ProviderAWS pulls cost from Cost Explorer, performance from CloudWatch,
// and inventory from EC2.
const ProviderAWS = "aws"

func newAWSAdapters() []Adapter {
	return []Adapter{
		&awsCostAdapter{},
		&awsPerformanceAdapter{},
		&awsResourceAdapter{},
	}
}

func awsConfig(ctx context.Context, cred *credentials.Decrypted) (aws.Config, error) {
	region := cred.Payload["region"]
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(
			cred.Payload["access_key_id"],
			cred.Payload["secret_access_key"],
			cred.Payload["session_token"],
		)),
	)
	if err != nil {
		return aws.Config{}, apperrors.Wrap(err, apperrors.KindCredential, "providers", "aws config")
	}
	return cfg, nil
}

func verifyAWS(ctx context.Context, cred *credentials.Decrypted) error {
	cfg, err := awsConfig(ctx, cred)
	if err != nil {
		return err
	}
	_, err = sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	return err
}

type awsCostAdapter struct{}

func (a *awsCostAdapter) Provider() string { return ProviderAWS }
func (a *awsCostAdapter) DataType() string { return timeseries.DataTypeCost }

// Collect pulls daily unblended cost grouped by service from Cost
// Explorer. Cost Explorer paginates with an opaque token the scheduler
// persists as the cursor.
func (a *awsCostAdapter) Collect(ctx context.Context, req Request) (*Result, error) {
	cfg, err := awsConfig(ctx, req.Credential)
	if err != nil {
		return nil, err
	}
	client := costexplorer.NewFromConfig(cfg)
	res := &Result{Batch: timeseries.Batch{DataType: timeseries.DataTypeCost}}

	input := &costexplorer.GetCostAndUsageInput{
		Granularity: cetypes.GranularityDaily,
		Metrics:     []string{"UnblendedCost"},
		TimePeriod: &cetypes.DateInterval{
			Start: aws.String(req.Since.Format("2006-01-02")),
			End:   aws.String(req.Until.AddDate(0, 0, 1).Format("2006-01-02")),
		},
		GroupBy: []cetypes.GroupDefinition{
			{Type: cetypes.GroupDefinitionTypeDimension, Key: aws.String("SERVICE")},
		},
	}
	if req.Cursor != "" {
		input.NextPageToken = aws.String(req.Cursor)
	}

	out, err := client.GetCostAndUsage(ctx, input)
	if err != nil {
		return nil, classifyAWS(err, "cost explorer")
	}

	for _, result := range out.ResultsByTime {
		ts, perr := time.Parse("2006-01-02", aws.ToString(result.TimePeriod.Start))
		if perr != nil {
			res.addError(fmt.Errorf("parse period %q: %w", aws.ToString(result.TimePeriod.Start), perr))
			continue
		}
		for _, group := range result.Groups {
			metric, ok := group.Metrics["UnblendedCost"]
			if !ok || len(group.Keys) == 0 {
				continue
			}
			amount, perr := strconv.ParseFloat(aws.ToString(metric.Amount), 64)
			if perr != nil {
				res.addError(fmt.Errorf("parse amount %q: %w", aws.ToString(metric.Amount), perr))
				continue
			}
			res.Batch.Cost = append(res.Batch.Cost, timeseries.CostRow{
				Timestamp:    ts,
				CustomerID:   req.Credential.CustomerID,
				Provider:     ProviderAWS,
				CostType:     group.Keys[0],
				Amount:       amount,
				Currency:     aws.ToString(metric.Unit),
				ResourceType: "service",
			})
		}
	}
	res.NextCursor = aws.ToString(out.NextPageToken)
	return res, nil
}

type awsPerformanceAdapter struct{}

func (a *awsPerformanceAdapter) Provider() string { return ProviderAWS }
func (a *awsPerformanceAdapter) DataType() string { return timeseries.DataTypePerformance }

// Collect samples EC2 fleet metrics through CloudWatch GetMetricData.
func (a *awsPerformanceAdapter) Collect(ctx context.Context, req Request) (*Result, error) {
	cfg, err := awsConfig(ctx, req.Credential)
	if err != nil {
		return nil, err
	}
	client := cloudwatch.NewFromConfig(cfg)
	res := &Result{Batch: timeseries.Batch{DataType: timeseries.DataTypePerformance}}

	metrics := []struct{ id, name, stat string }{
		{"cpu", "CPUUtilization", "Average"},
		{"netin", "NetworkIn", "Sum"},
		{"netout", "NetworkOut", "Sum"},
	}
	queries := make([]cwtypes.MetricDataQuery, 0, len(metrics))
	for _, m := range metrics {
		queries = append(queries, cwtypes.MetricDataQuery{
			Id: aws.String(m.id),
			MetricStat: &cwtypes.MetricStat{
				Metric: &cwtypes.Metric{
					Namespace:  aws.String("AWS/EC2"),
					MetricName: aws.String(m.name),
				},
				Period: aws.Int32(300),
				Stat:   aws.String(m.stat),
			},
		})
	}

	out, err := client.GetMetricData(ctx, &cloudwatch.GetMetricDataInput{
		StartTime:         aws.Time(req.Since),
		EndTime:           aws.Time(req.Until),
		MetricDataQueries: queries,
	})
	if err != nil {
		return nil, classifyAWS(err, "cloudwatch")
	}

	names := map[string]string{"cpu": "cpu_utilization", "netin": "network_in_bytes", "netout": "network_out_bytes"}
	for _, mdr := range out.MetricDataResults {
		canonical := req.Credential.MetricName(names[aws.ToString(mdr.Id)])
		for i := range mdr.Timestamps {
			res.Batch.Performance = append(res.Batch.Performance, timeseries.PerformanceRow{
				Timestamp:   mdr.Timestamps[i],
				CustomerID:  req.Credential.CustomerID,
				Provider:    ProviderAWS,
				MetricName:  canonical,
				MetricValue: mdr.Values[i],
			})
		}
		for _, msg := range mdr.Messages {
			res.addError(fmt.Errorf("cloudwatch %s: %s", aws.ToString(mdr.Id), aws.ToString(msg.Value)))
		}
	}
	return res, nil
}

type awsResourceAdapter struct{}

func (a *awsResourceAdapter) Provider() string { return ProviderAWS }
func (a *awsResourceAdapter) DataType() string { return timeseries.DataTypeResource }

// Collect inventories EC2 instances; the pagination token becomes the
// scheduler's cursor.
func (a *awsResourceAdapter) Collect(ctx context.Context, req Request) (*Result, error) {
	cfg, err := awsConfig(ctx, req.Credential)
	if err != nil {
		return nil, err
	}
	client := ec2.NewFromConfig(cfg)
	res := &Result{Batch: timeseries.Batch{DataType: timeseries.DataTypeResource}}
	now := time.Now().UTC()

	input := &ec2.DescribeInstancesInput{MaxResults: aws.Int32(500)}
	if req.Cursor != "" {
		input.NextToken = aws.String(req.Cursor)
	}
	out, err := client.DescribeInstances(ctx, input)
	if err != nil {
		return nil, classifyAWS(err, "ec2")
	}

	for _, reservation := range out.Reservations {
		for _, inst := range reservation.Instances {
			running := 0.0
			if inst.State != nil && inst.State.Name == "running" {
				running = 1.0
			}
			res.Batch.Resource = append(res.Batch.Resource, timeseries.ResourceRow{
				Timestamp:    now,
				CustomerID:   req.Credential.CustomerID,
				Provider:     ProviderAWS,
				ResourceID:   aws.ToString(inst.InstanceId),
				ResourceType: string(inst.InstanceType),
				MetricName:   "instance_running",
				MetricValue:  running,
			})
		}
	}
	res.NextCursor = aws.ToString(out.NextToken)
	return res, nil
}

// classifyAWS maps SDK failures onto the platform error kinds.
func classifyAWS(err error, op string) error {
	return apperrors.Wrap(err, apperrors.KindTransient, "providers", "aws "+op)
}
