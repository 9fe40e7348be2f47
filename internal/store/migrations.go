package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// one row per classifier directory under <data>/classifiers
		`CREATE TABLE IF NOT EXISTS classifiers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			variant TEXT NOT NULL CHECK(variant IN ('color', 'shape', 'brightness', 'sift', 'adaboost', 'motion', 'gesture')),
			dir TEXT NOT NULL DEFAULT '',
			threshold REAL NOT NULL DEFAULT 0.5,
			trained INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// labelled regions a classifier is trained from
		`CREATE TABLE IF NOT EXISTS training_samples (
			id TEXT PRIMARY KEY,
			classifier_id TEXT NOT NULL REFERENCES classifiers(id) ON DELETE CASCADE,
			grp TEXT NOT NULL CHECK(grp IN ('positive', 'negative', 'range', 'trash')),
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			image BLOB NOT NULL,
			track TEXT,
			motion BLOB,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// regions reported by the pipeline
		`CREATE TABLE IF NOT EXISTS detections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			classifier TEXT NOT NULL,
			frame INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_training_samples_classifier_id ON training_samples(classifier_id)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_classifier ON detections(classifier)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_created_at ON detections(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}
	return nil
}
