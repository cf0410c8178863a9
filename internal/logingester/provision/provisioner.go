package provision

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/G-Research/logingester/internal/logingester/store"
	"github.com/G-Research/logingester/pkg/logwriter"
)

const day = 24 * time.Hour

// DayPartitions lists the partitions records of a given UTC day may be routed to.
type DayPartitions func(day time.Time) []logwriter.PartitionID

// ForServices lists one daily partition per service, matching logwriter.DailyRouter.
func ForServices(services []string) DayPartitions {
	return func(day time.Time) []logwriter.PartitionID {
		partitions := make([]logwriter.PartitionID, len(services))
		for i, service := range services {
			partitions[i] = logwriter.DailyPartition(service, day)
		}
		return partitions
	}
}

// ForShards lists every shard of router.
func ForShards(router *logwriter.HashRouter) DayPartitions {
	return router.Partitions
}

// Provisioner creates the partitions for today and the following days ahead of the first write.
type Provisioner struct {
	store      store.Provisioner
	partitions DayPartitions
	daysAhead  int
	clock      clock.PassiveClock
}

func NewProvisioner(store store.Provisioner, partitions DayPartitions, daysAhead int, clock clock.PassiveClock) *Provisioner {
	return &Provisioner{store: store, partitions: partitions, daysAhead: daysAhead, clock: clock}
}

// Partitions returns the partitions a run creates.
func (p *Provisioner) Partitions() []logwriter.PartitionID {
	today := p.clock.Now().UTC().Truncate(day)
	var partitions []logwriter.PartitionID
	for d := 0; d <= p.daysAhead; d++ {
		partitions = append(partitions, p.partitions(today.Add(time.Duration(d)*day))...)
	}
	return partitions
}

// Run ensures every partition exists. Failures do not stop the run; they are returned together.
func (p *Provisioner) Run(ctx context.Context) error {
	var result *multierror.Error
	partitions := p.Partitions()
	for _, partition := range partitions {
		if err := ctx.Err(); err != nil {
			return multierror.Append(result, err).ErrorOrNil()
		}
		if err := p.store.EnsurePartition(ctx, partition); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		log.WithError(err).Warnf("Failed to provision %d of %d partitions", len(result.Errors), len(partitions))
		return err
	}
	log.Infof("Provisioned %d partitions", len(partitions))
	return nil
}
