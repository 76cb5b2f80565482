package logic

import (
	"errors"
	"fmt"

	"github.com/TheOnlyBaddy/Blocklance/internal/errs"
	"github.com/TheOnlyBaddy/Blocklance/internal/model"
	"gorm.io/gorm"
)

// ProjectLogic 项目业务逻辑
type ProjectLogic struct {
	db *gorm.DB
}

// NewProjectLogic 创建项目业务逻辑
func NewProjectLogic(db *gorm.DB) *ProjectLogic {
	return &ProjectLogic{db: db}
}

// CreateProject 创建项目
func (p *ProjectLogic) CreateProject(project *model.ProjectModel) error {
	if err := p.validateProject(project); err != nil {
		return err
	}

	// 新项目总是从招标中开始
	project.Status = model.ProjectStatusOpen
	project.EscrowFunded = false
	project.EscrowReleased = false

	if err := p.db.Create(project).Error; err != nil {
		return fmt.Errorf("创建项目失败: %w", err)
	}

	return nil
}

// GetProject 获取项目详情
func (p *ProjectLogic) GetProject(id int64) (*model.ProjectModel, error) {
	var project model.ProjectModel
	if err := p.db.First(&project, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("项目不存在")
		}
		return nil, fmt.Errorf("获取项目详情失败: %w", err)
	}

	return &project, nil
}

// GetProjects 获取项目列表，clientId大于0时只看该客户的项目
func (p *ProjectLogic) GetProjects(clientId int64, page, pageSize int) ([]model.ProjectModel, int64, error) {
	var projects []model.ProjectModel
	var total int64

	query := p.db.Model(&model.ProjectModel{})
	if clientId > 0 {
		query = query.Where("client_id = ?", clientId)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("获取项目总数失败: %w", err)
	}

	offset := (page - 1) * pageSize
	if err := query.Offset(offset).Limit(pageSize).Order("created_at DESC").Find(&projects).Error; err != nil {
		return nil, 0, fmt.Errorf("获取项目列表失败: %w", err)
	}

	return projects, total, nil
}

// AssignFreelancer 指派自由职业者，项目从open进入in_progress
// 状态只向前推进；争议裁决等回退路径属于外部协作方，不在这里
func (p *ProjectLogic) AssignFreelancer(projectId, freelancerId, callerId int64) (*model.ProjectModel, error) {
	var project model.ProjectModel

	err := p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&project, projectId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound("项目不存在")
			}
			return fmt.Errorf("获取项目失败: %w", err)
		}

		if project.ClientId != callerId {
			return errs.Authorization("只有项目客户可以指派自由职业者")
		}
		if project.Status != model.ProjectStatusOpen {
			return errs.Validation("项目不在招标中，无法指派")
		}
		if freelancerId <= 0 {
			return errs.Validation("无效的freelancerId")
		}

		updates := map[string]interface{}{
			"assigned_freelancer_id": freelancerId,
			"status":                 model.ProjectStatusInProgress,
		}
		if err := tx.Model(&project).Updates(updates).Error; err != nil {
			return fmt.Errorf("指派自由职业者失败: %w", err)
		}

		return tx.First(&project, projectId).Error
	})
	if err != nil {
		return nil, err
	}

	return &project, nil
}

// validateProject 验证项目数据
func (p *ProjectLogic) validateProject(project *model.ProjectModel) error {
	if project.Title == "" {
		return errs.Validation("项目标题不能为空")
	}
	if project.ClientId == 0 {
		return errs.Validation("缺少客户ID")
	}
	if project.Budget < 0 {
		return errs.Validation("项目预算不能为负数")
	}

	return nil
}
