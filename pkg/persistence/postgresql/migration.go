package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create sessions table
			CREATE TABLE sessions (
				id VARCHAR(64) PRIMARY KEY,
				workflow_type VARCHAR(32) NOT NULL,
				requirements TEXT NOT NULL,
				definition JSONB NOT NULL,
				status VARCHAR(32) NOT NULL CHECK (status IN ('running', 'completed', 'failed')),
				reason VARCHAR(64),
				current_stage VARCHAR(64),
				records JSONB NOT NULL DEFAULT '[]',
				feedback JSONB NOT NULL DEFAULT '[]',
				test_result JSONB,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_sessions_status ON sessions(status);
			CREATE INDEX idx_sessions_workflow_type ON sessions(workflow_type);
			CREATE INDEX idx_sessions_started_at ON sessions(started_at);
		`,
	}
}
