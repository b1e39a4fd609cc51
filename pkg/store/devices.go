package store

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/util"
)

// ReconcileLease applies one lease observation to the device table. A
// new MAC creates a device with first_seen=now; an existing one updates
// ip/hostname/last_seen. Reservations are sticky: a reserved hostname
// and VLAN override whatever the lease reports.
func (s *Store) ReconcileLease(rec *model.LeaseRecord, now time.Time) (created bool, err error) {
	dev, err := s.GetDevice(rec.MAC)
	if err != nil && !errors.Is(err, util.ErrNotFound) {
		return false, err
	}

	hostname := rec.Hostname
	var vlan *int
	if dev != nil {
		vlan = dev.VlanID
	}
	if dev != nil && dev.Reservation != nil {
		hostname = dev.Reservation.DesiredHostname
		v := dev.Reservation.VlanID
		vlan = &v
	}

	if dev == nil {
		_, err = s.db.Exec(`INSERT INTO devices
			(mac, ip, hostname, vlan_id, first_seen_ms, last_seen_ms, online)
			VALUES (?, ?, ?, ?, ?, ?, 0)`,
			rec.MAC, rec.IP, hostname, nullableInt(vlan), ms(now), ms(now))
		if err != nil {
			return false, transientf("creating device", err)
		}
		created = true
	} else {
		_, err = s.db.Exec(`UPDATE devices
			SET ip = ?, hostname = ?, vlan_id = ?, last_seen_ms = ? WHERE mac = ?`,
			rec.IP, hostname, nullableInt(vlan), ms(now), rec.MAC)
		if err != nil {
			return false, transientf("updating device", err)
		}
	}

	_, err = s.db.Exec(`INSERT INTO lease_observations
		(mac, ip, hostname, lease_expiry_ms, source_file, observed_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.MAC, rec.IP, rec.Hostname, ms(rec.LeaseExpiry), rec.SourceFile, ms(rec.ObservedAt))
	if err != nil {
		return created, transientf("recording lease observation", err)
	}
	return created, nil
}

// GetDevice returns a device by canonical MAC.
func (s *Store) GetDevice(mac string) (*model.Device, error) {
	row := s.db.QueryRow(`SELECT mac, ip, hostname, vlan_id, first_seen_ms, last_seen_ms,
		res_host_id, res_hostname, res_vlan_id, online FROM devices WHERE mac = ?`, mac)
	dev, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NotFoundf("unknown_device", "no such device %q", mac)
	}
	if err != nil {
		return nil, transientf("reading device", err)
	}
	return dev, nil
}

// DeviceFilter restricts ListDevices output. Zero value matches all.
type DeviceFilter struct {
	VlanID     *int
	OnlineOnly bool
	Hostname   string // substring match, case-insensitive
	SeenSince  time.Time
}

// ListDevices returns devices matching the filter, ordered by MAC.
func (s *Store) ListDevices(f DeviceFilter) ([]*model.Device, error) {
	q := `SELECT mac, ip, hostname, vlan_id, first_seen_ms, last_seen_ms,
		res_host_id, res_hostname, res_vlan_id, online FROM devices`
	var (
		conds []string
		args  []any
	)
	if f.VlanID != nil {
		conds = append(conds, "vlan_id = ?")
		args = append(args, *f.VlanID)
	}
	if f.OnlineOnly {
		conds = append(conds, "online = 1")
	}
	if f.Hostname != "" {
		conds = append(conds, "LOWER(hostname) LIKE ?")
		args = append(args, "%"+strings.ToLower(f.Hostname)+"%")
	}
	if !f.SeenSince.IsZero() {
		conds = append(conds, "last_seen_ms >= ?")
		args = append(args, ms(f.SeenSince))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY mac"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, transientf("listing devices", err)
	}
	defer rows.Close()

	var devices []*model.Device
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, transientf("scanning device", err)
		}
		devices = append(devices, dev)
	}
	return devices, rows.Err()
}

// NewDevicesSince returns devices first seen after the cutoff.
func (s *Store) NewDevicesSince(cutoff time.Time) ([]*model.Device, error) {
	rows, err := s.db.Query(`SELECT mac, ip, hostname, vlan_id, first_seen_ms, last_seen_ms,
		res_host_id, res_hostname, res_vlan_id, online
		FROM devices WHERE first_seen_ms >= ? ORDER BY first_seen_ms DESC`, ms(cutoff))
	if err != nil {
		return nil, transientf("listing new devices", err)
	}
	defer rows.Close()

	var devices []*model.Device
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, transientf("scanning device", err)
		}
		devices = append(devices, dev)
	}
	return devices, rows.Err()
}

// SetReservation pins hostname/VLAN for a device; nil clears it.
func (s *Store) SetReservation(mac string, res *model.Reservation) error {
	var hostID, hostname any
	var vlan any
	if res != nil {
		hostID, hostname, vlan = res.HostID, res.DesiredHostname, res.VlanID
	}
	r, err := s.db.Exec(`UPDATE devices SET res_host_id = ?, res_hostname = ?, res_vlan_id = ?
		WHERE mac = ?`, hostID, hostname, vlan, mac)
	if err != nil {
		return transientf("setting reservation", err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return util.NotFoundf("unknown_device", "no such device %q", mac)
	}
	return nil
}

// SetDeviceOnline records the derived presence state.
func (s *Store) SetDeviceOnline(mac string, online bool) error {
	_, err := s.db.Exec(`UPDATE devices SET online = ? WHERE mac = ?`, boolInt(online), mac)
	if err != nil {
		return transientf("updating device presence", err)
	}
	return nil
}

// LeaseHistory returns recent lease observations for a device, newest
// first.
func (s *Store) LeaseHistory(mac string, limit int) ([]*model.LeaseRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT mac, ip, hostname, lease_expiry_ms, source_file, observed_at_ms
		FROM lease_observations WHERE mac = ? ORDER BY observed_at_ms DESC LIMIT ?`, mac, limit)
	if err != nil {
		return nil, transientf("reading lease history", err)
	}
	defer rows.Close()

	var recs []*model.LeaseRecord
	for rows.Next() {
		var (
			rec            model.LeaseRecord
			expiry, seenAt int64
		)
		if err := rows.Scan(&rec.MAC, &rec.IP, &rec.Hostname, &expiry, &rec.SourceFile, &seenAt); err != nil {
			return nil, transientf("scanning lease observation", err)
		}
		rec.LeaseExpiry = fromMS(expiry)
		rec.ObservedAt = fromMS(seenAt)
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// InsertPresenceSample records one activity sample and mirrors it into
// the operational tier when attached.
func (s *Store) InsertPresenceSample(sample *model.PresenceSample) error {
	_, err := s.db.Exec(`INSERT INTO presence_samples
		(mac, observed_at_ms, bytes_in_delta, bytes_out_delta, ping_responded, active)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sample.MAC, ms(sample.ObservedAt), sample.BytesInDelta, sample.BytesOutDelta,
		boolInt(sample.PingResponded), boolInt(sample.Active))
	if err != nil {
		return transientf("recording presence sample", err)
	}
	if s.op != nil {
		s.op.MirrorSample(sample)
	}
	return nil
}

// RecentSamples returns the latest samples for a device, newest first.
func (s *Store) RecentSamples(mac string, limit int) ([]*model.PresenceSample, error) {
	if limit <= 0 {
		limit = 50
	}
	if s.op != nil {
		if samples, ok := s.op.RecentSamples(mac, limit); ok {
			return samples, nil
		}
	}
	rows, err := s.db.Query(`SELECT mac, observed_at_ms, bytes_in_delta, bytes_out_delta,
		ping_responded, active FROM presence_samples
		WHERE mac = ? ORDER BY observed_at_ms DESC LIMIT ?`, mac, limit)
	if err != nil {
		return nil, transientf("reading presence samples", err)
	}
	defer rows.Close()

	var samples []*model.PresenceSample
	for rows.Next() {
		var (
			sm           model.PresenceSample
			at           int64
			ping, active int
		)
		if err := rows.Scan(&sm.MAC, &at, &sm.BytesInDelta, &sm.BytesOutDelta, &ping, &active); err != nil {
			return nil, transientf("scanning presence sample", err)
		}
		sm.ObservedAt = fromMS(at)
		sm.PingResponded = ping != 0
		sm.Active = active != 0
		samples = append(samples, &sm)
	}
	return samples, rows.Err()
}

// InsertDNSQuery records one DNS query observation for a client IP.
func (s *Store) InsertDNSQuery(clientIP, qname string, at time.Time) error {
	_, err := s.db.Exec(`INSERT INTO dns_queries (client_ip, qname, at_ms) VALUES (?, ?, ?)`,
		clientIP, qname, ms(at))
	if err != nil {
		return transientf("recording dns query", err)
	}
	return nil
}

// DNSQueriesSince returns query names seen for a client IP since the
// cutoff, oldest first.
func (s *Store) DNSQueriesSince(clientIP string, since time.Time) ([]string, error) {
	rows, err := s.db.Query(`SELECT qname FROM dns_queries
		WHERE client_ip = ? AND at_ms >= ? ORDER BY at_ms`, clientIP, ms(since))
	if err != nil {
		return nil, transientf("reading dns queries", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, transientf("scanning dns query", err)
		}
		names = append(names, q)
	}
	return names, rows.Err()
}

func scanDevice(r rowScanner) (*model.Device, error) {
	var (
		dev                   model.Device
		vlan, resVlan         sql.NullInt64
		resHostID, resHost    sql.NullString
		first, last           int64
		online                int
	)
	err := r.Scan(&dev.MAC, &dev.IP, &dev.Hostname, &vlan, &first, &last,
		&resHostID, &resHost, &resVlan, &online)
	if err != nil {
		return nil, err
	}
	if vlan.Valid {
		v := int(vlan.Int64)
		dev.VlanID = &v
	}
	if resHostID.Valid {
		dev.Reservation = &model.Reservation{
			HostID:          resHostID.String,
			DesiredHostname: resHost.String,
			VlanID:          int(resVlan.Int64),
		}
	}
	dev.FirstSeen = fromMS(first)
	dev.LastSeen = fromMS(last)
	dev.Online = online != 0
	return &dev, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
