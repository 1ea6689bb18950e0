package kcs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/smithy-go"
)

const aliasPrefix = "alias/"

// NewAWS loads the default AWS credential chain for region and returns the
// KMS and parameter store backends.
func NewAWS(ctx context.Context, region string) (*AWSKMS, *AWSParameters, error) {
	if strings.TrimSpace(region) == "" {
		return nil, nil, errors.New("kcs: aws region required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, nil, fmt.Errorf("kcs: load aws config: %w", err)
	}
	return &AWSKMS{client: kms.NewFromConfig(cfg)}, &AWSParameters{client: ssm.NewFromConfig(cfg)}, nil
}

// translate maps SDK errors onto the package sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var kmsNotFound *kmstypes.NotFoundException
	var ssmNotFound *ssmtypes.ParameterNotFound
	if errors.As(err, &kmsNotFound) || errors.As(err, &ssmNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "AccessDenied", "KMSAccessDeniedException", "UnauthorizedOperation":
			return fmt.Errorf("%w: %s", ErrAccessDenied, apiErr.ErrorMessage())
		}
	}
	return err
}

func qualifiedAlias(alias string) string {
	if strings.HasPrefix(alias, aliasPrefix) {
		return alias
	}
	return aliasPrefix + alias
}

// AWSKMS implements KeyManager on AWS KMS.
type AWSKMS struct {
	client *kms.Client
}

func (a *AWSKMS) CreateKey(ctx context.Context, spec KeySpec) (string, error) {
	in := &kms.CreateKeyInput{
		Description: aws.String(spec.Description),
		KeySpec:     kmstypes.KeySpecSymmetricDefault,
		KeyUsage:    kmstypes.KeyUsageTypeEncryptDecrypt,
	}
	if spec.Policy != "" {
		in.Policy = aws.String(spec.Policy)
	}
	for k, v := range spec.Tags {
		in.Tags = append(in.Tags, kmstypes.Tag{TagKey: aws.String(k), TagValue: aws.String(v)})
	}
	out, err := a.client.CreateKey(ctx, in)
	if err != nil {
		return "", translate(err)
	}
	if out.KeyMetadata == nil || out.KeyMetadata.KeyId == nil {
		return "", errors.New("kms: create key returned no key id")
	}
	return aws.ToString(out.KeyMetadata.KeyId), nil
}

func (a *AWSKMS) PointAlias(ctx context.Context, alias, keyID string) error {
	name := qualifiedAlias(alias)
	_, err := a.client.CreateAlias(ctx, &kms.CreateAliasInput{AliasName: aws.String(name), TargetKeyId: aws.String(keyID)})
	var exists *kmstypes.AlreadyExistsException
	if errors.As(err, &exists) {
		_, err = a.client.UpdateAlias(ctx, &kms.UpdateAliasInput{AliasName: aws.String(name), TargetKeyId: aws.String(keyID)})
	}
	return translate(err)
}

func (a *AWSKMS) DeleteAlias(ctx context.Context, alias string) error {
	_, err := a.client.DeleteAlias(ctx, &kms.DeleteAliasInput{AliasName: aws.String(qualifiedAlias(alias))})
	return translate(err)
}

func (a *AWSKMS) ResolveAlias(ctx context.Context, alias string) (string, error) {
	out, err := a.client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(qualifiedAlias(alias))})
	if err != nil {
		return "", translate(err)
	}
	if out.KeyMetadata == nil {
		return "", fmt.Errorf("alias %s: %w", alias, ErrNotFound)
	}
	if out.KeyMetadata.KeyState == kmstypes.KeyStatePendingDeletion {
		return "", fmt.Errorf("alias %s points at a key pending deletion: %w", alias, ErrNotFound)
	}
	return aws.ToString(out.KeyMetadata.KeyId), nil
}

func (a *AWSKMS) KeyTags(ctx context.Context, keyID string) (map[string]string, error) {
	tags := make(map[string]string)
	var marker *string
	for {
		out, err := a.client.ListResourceTags(ctx, &kms.ListResourceTagsInput{KeyId: aws.String(keyID), Marker: marker})
		if err != nil {
			return nil, translate(err)
		}
		for _, t := range out.Tags {
			tags[aws.ToString(t.TagKey)] = aws.ToString(t.TagValue)
		}
		if !out.Truncated || out.NextMarker == nil {
			return tags, nil
		}
		marker = out.NextMarker
	}
}

func (a *AWSKMS) ScheduleDeletion(ctx context.Context, keyID string, days int) error {
	_, err := a.client.ScheduleKeyDeletion(ctx, &kms.ScheduleKeyDeletionInput{
		KeyId:               aws.String(keyID),
		PendingWindowInDays: aws.Int32(int32(days)),
	})
	return translate(err)
}

func (a *AWSKMS) CancelDeletion(ctx context.Context, keyID string) error {
	_, err := a.client.CancelKeyDeletion(ctx, &kms.CancelKeyDeletionInput{KeyId: aws.String(keyID)})
	return translate(err)
}

func (a *AWSKMS) ListAliases(ctx context.Context) ([]AliasEntry, error) {
	var out []AliasEntry
	pages := kms.NewListAliasesPaginator(a.client, &kms.ListAliasesInput{})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, translate(err)
		}
		for _, entry := range page.Aliases {
			name := aws.ToString(entry.AliasName)
			if strings.HasPrefix(name, aliasPrefix+"aws/") {
				continue
			}
			out = append(out, AliasEntry{Alias: strings.TrimPrefix(name, aliasPrefix), KeyID: aws.ToString(entry.TargetKeyId)})
		}
	}
	return out, nil
}

// AWSParameters implements ParameterStore on SSM Parameter Store.
type AWSParameters struct {
	client *ssm.Client
}

// PutSecure writes a SecureString. SSM rejects tags on overwrite, so tags
// are applied in a second call.
func (p *AWSParameters) PutSecure(ctx context.Context, name, value, keyID string, tags map[string]string) error {
	_, err := p.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(name),
		Value:     aws.String(value),
		Type:      ssmtypes.ParameterTypeSecureString,
		KeyId:     aws.String(keyID),
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return translate(err)
	}
	if len(tags) == 0 {
		return nil
	}
	in := &ssm.AddTagsToResourceInput{
		ResourceType: ssmtypes.ResourceTypeForTaggingParameter,
		ResourceId:   aws.String(name),
	}
	for k, v := range tags {
		in.Tags = append(in.Tags, ssmtypes.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	_, err = p.client.AddTagsToResource(ctx, in)
	return translate(err)
}

func (p *AWSParameters) GetDecrypted(ctx context.Context, name string) (string, error) {
	out, err := p.client.GetParameter(ctx, &ssm.GetParameterInput{Name: aws.String(name), WithDecryption: aws.Bool(true)})
	if err != nil {
		return "", translate(err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s: %w", name, ErrNotFound)
	}
	return aws.ToString(out.Parameter.Value), nil
}

func (p *AWSParameters) Delete(ctx context.Context, name string) error {
	_, err := p.client.DeleteParameter(ctx, &ssm.DeleteParameterInput{Name: aws.String(name)})
	return translate(err)
}
