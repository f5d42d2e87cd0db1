package bootstrap

// SkipFrame returns true if the frame would yield nothing, so that the
// detector doesn't need to run on it at all.
func (m *Miner) SkipFrame(frameName string) bool {
	m.lastGT = nil
	if !m.IsActive() {
		return false
	}
	if m.gt == nil || !m.gt.Exists(frameName) {
		if !m.cfg.Negatives {
			m.log.Warnf("%v: skipping, because there is no ground truth", frameName)
			return true
		}
		if m.cfg.NegativesGTOnly {
			m.log.Warnf("%v: skipping, because there is no ground truth, and negativesGTOnly is set", frameName)
			return true
		}
		return false
	}
	if !m.cfg.Negatives {
		accepted, rejected, err := m.gt.LoadClean(frameName)
		m.lastGT = &loadedGT{frame: frameName, accepted: accepted, rejected: rejected, err: err}
		if err != nil {
			m.log.Warnf("%v: skipping, because the ground truth could not be loaded: %v", frameName, err)
			return true
		}
		if len(accepted) == 0 {
			m.log.Warnf("%v: skipping, because no ground truth objects pass the filters", frameName)
			return true
		}
	}
	return false
}
