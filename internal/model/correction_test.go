package model

import (
	"testing"
)

func TestCorrectionRule_Validate(t *testing.T) {
	validTrigger := Trigger{
		Metric:                MetricQuality,
		Op:                    OpLessThan,
		Threshold:             0.6,
		ConsecutiveViolations: 3,
	}

	tests := []struct {
		name    string
		errMsg  string
		rule    CorrectionRule
		wantErr bool
	}{
		{
			name: "valid function-scoped rule",
			rule: CorrectionRule{
				Name:     "quality-dip",
				Function: "donor_outreach",
				Trigger:  validTrigger,
				Action:   AdjustParameter{Name: "temperature", Delta: -0.2},
			},
			wantErr: false,
		},
		{
			name: "valid ecosystem-scoped rule",
			rule: CorrectionRule{
				Name:      "fundraising-errors",
				Ecosystem: "fundraising",
				Trigger:   validTrigger,
				Action:    DisableFunction{},
			},
			wantErr: false,
		},
		{
			name: "missing name",
			rule: CorrectionRule{
				Function: "donor_outreach",
				Trigger:  validTrigger,
				Action:   SwapModel{To: "fallback"},
			},
			wantErr: true,
			errMsg:  "rule name is required",
		},
		{
			name: "no scope",
			rule: CorrectionRule{
				Name:    "unscoped",
				Trigger: validTrigger,
				Action:  SwapModel{To: "fallback"},
			},
			wantErr: true,
			errMsg:  "rule requires a function or ecosystem scope",
		},
		{
			name: "unknown metric",
			rule: CorrectionRule{
				Name:     "bad-metric",
				Function: "donor_outreach",
				Trigger: Trigger{
					Metric:                "throughput",
					Op:                    OpLessThan,
					ConsecutiveViolations: 3,
				},
				Action: DisableFunction{},
			},
			wantErr: true,
			errMsg:  `unknown metric "throughput"`,
		},
		{
			name: "unknown comparison operator",
			rule: CorrectionRule{
				Name:     "bad-op",
				Function: "donor_outreach",
				Trigger: Trigger{
					Metric:                MetricErrorRate,
					Op:                    "ne",
					ConsecutiveViolations: 3,
				},
				Action: DisableFunction{},
			},
			wantErr: true,
			errMsg:  `unknown comparison operator "ne"`,
		},
		{
			name: "zero consecutive violations",
			rule: CorrectionRule{
				Name:     "never-fires",
				Function: "donor_outreach",
				Trigger: Trigger{
					Metric: MetricQuality,
					Op:     OpLessThan,
				},
				Action: DisableFunction{},
			},
			wantErr: true,
			errMsg:  "consecutive violations must be at least 1",
		},
		{
			name: "missing action",
			rule: CorrectionRule{
				Name:     "no-action",
				Function: "donor_outreach",
				Trigger:  validTrigger,
			},
			wantErr: true,
			errMsg:  "rule requires a correction action",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil && tt.errMsg != "" && err.Error() != tt.errMsg {
				t.Errorf("Validate() error = %v, want %v", err.Error(), tt.errMsg)
			}
		})
	}
}
