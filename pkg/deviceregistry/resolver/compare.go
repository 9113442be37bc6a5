package resolver

import (
	"context"
	"fmt"

	"github.com/vpbank/device_registry/models"
	"github.com/vpbank/device_registry/snmp"
)

// compareOIDs is the broader identity probe used when neither serial nor a
// fully-qualified sysName settles a system-identity collision.
var compareOIDs = []string{
	models.OIDSysObjectID,
	models.OIDSysContact,
	models.OIDSysLocation,
	models.OIDSysName,
}

// SNMPOIDComparer compares two devices by fetching the system OID set from
// both over their own credentials. Two devices agree when at least
// threshold of the OIDs answered by both sides carry identical values;
// threshold 1.0 requires every comparable OID to match.
type SNMPOIDComparer struct {
	dialer    snmp.Dialer
	threshold float64
}

// NewSNMPOIDComparer builds the production comparer. threshold outside
// (0, 1] falls back to 1.0.
func NewSNMPOIDComparer(dialer snmp.Dialer, threshold float64) *SNMPOIDComparer {
	if dialer == nil {
		dialer = snmp.Dial
	}
	if threshold <= 0 || threshold > 1 {
		threshold = 1.0
	}
	return &SNMPOIDComparer{dialer: dialer, threshold: threshold}
}

// CompareOIDs implements OIDComparer.
func (c *SNMPOIDComparer) CompareOIDs(ctx context.Context, candidate, existing *models.Device) (bool, error) {
	candValues, err := c.fetch(ctx, candidate)
	if err != nil {
		return false, fmt.Errorf("compare oids: candidate %s: %w", candidate.Hostname, err)
	}
	existValues, err := c.fetch(ctx, existing)
	if err != nil {
		return false, fmt.Errorf("compare oids: existing %s: %w", existing.Hostname, err)
	}

	comparable, matched := 0, 0
	for _, oid := range compareOIDs {
		cv, cok := candValues[oid]
		ev, eok := existValues[oid]
		if !cok || !eok {
			continue
		}
		comparable++
		if cv == ev {
			matched++
		}
	}
	if comparable == 0 {
		return false, nil
	}
	return float64(matched)/float64(comparable) >= c.threshold, nil
}

// fetch collects the comparison OIDs one device answers. Unanswered OIDs
// are simply absent from the result; only a session failure is an error.
func (c *SNMPOIDComparer) fetch(ctx context.Context, dev *models.Device) (map[string]string, error) {
	client, err := c.dialer(dev)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	values := make(map[string]string, len(compareOIDs))
	for _, oid := range compareOIDs {
		v, err := client.Get(ctx, oid)
		if err != nil || client.Status() != snmp.StatusOK {
			continue
		}
		values[oid] = v
	}
	return values, nil
}
